//go:build windows

package mcp

import (
	"os"
)

// openPolicyFile opens the policy file on Windows.
// Windows doesn't have O_NOFOLLOW; symlinks are rejected after Lstat.
func openPolicyFile(path string) (*os.File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrPolicySymlink
	}
	return os.OpenFile(path, os.O_RDONLY, 0)
}

// checkFileOwnership on Windows is a no-op.
// Windows uses ACLs for file ownership which requires different handling.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}
