//go:build !windows

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Alive sends signal 0, which performs the permission and existence checks
// without delivering anything. EPERM means the process exists but belongs
// to someone else.
func (systemProber) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
