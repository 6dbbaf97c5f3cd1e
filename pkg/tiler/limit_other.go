//go:build !linux && !darwin

package tiler

// MaxFilesEver returns how many tiles may be open at once.
func MaxFilesEver() int {
	return defaultMaxFiles
}
