//go:build linux || darwin

package tiler

import "golang.org/x/sys/unix"

// MaxFilesEver returns how many tiles may be open at once: the soft
// descriptor limit less a small reserve.
func MaxFilesEver() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return defaultMaxFiles
	}
	if rl.Cur <= reservedFiles {
		return 1
	}
	return int(min(rl.Cur-reservedFiles, 1<<20))
}
