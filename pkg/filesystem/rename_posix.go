// +build !windows

package filesystem

import (
	"golang.org/x/sys/unix"
)

// Rename performs an atomic rename from source to target, both of which must
// be absolute paths.
func Rename(source, target string) error {
	return unix.Rename(source, target)
}

// IsCrossDeviceError checks whether or not an error returned from rename
// represents a cross-device error.
func IsCrossDeviceError(err error) bool {
	return err == unix.EXDEV
}
