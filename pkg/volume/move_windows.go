//go:build windows

package volume

import (
	"errors"

	"golang.org/x/sys/windows"
)

func moveNoReplace(src, dst string) error {
	from, err := windows.UTF16PtrFromString(src)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(dst)
	if err != nil {
		return err
	}

	// Without MOVEFILE_REPLACE_EXISTING the call fails when dst exists.
	err = windows.MoveFileEx(from, to, 0)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) || errors.Is(err, windows.ERROR_FILE_EXISTS) {
		return ErrDestinationExists
	}
	return err
}
