//go:build !windows

package ownership

import "golang.org/x/sys/unix"

// processAlive reports whether pid names a live process on this host,
// using the conventional null-signal probe: EPERM still means the process
// exists (just owned by someone else), ESRCH means it does not.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}
