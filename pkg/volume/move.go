package volume

import (
	"errors"
	"fmt"
	"os"
)

// ErrDestinationExists is returned by MoveNoReplace when dst is taken.
var ErrDestinationExists = errors.New("volume: destination already exists")

// MoveNoReplace renames src to dst, failing with ErrDestinationExists
// instead of overwriting an existing dst.
func MoveNoReplace(src, dst string) error {
	if err := moveNoReplace(src, dst); err != nil {
		if errors.Is(err, ErrDestinationExists) {
			return err
		}
		return fmt.Errorf("volume: failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

// renameIfAbsent is the portable fallback. The check and the rename are
// not atomic.
func renameIfAbsent(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return ErrDestinationExists
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.Rename(src, dst)
}
