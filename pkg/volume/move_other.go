//go:build !linux && !windows

package volume

func moveNoReplace(src, dst string) error {
	return renameIfAbsent(src, dst)
}
