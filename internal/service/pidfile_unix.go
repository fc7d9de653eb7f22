//go:build !windows

package service

import "golang.org/x/sys/unix"

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	// EPERM means the process exists under another user.
	return err == nil || err == unix.EPERM
}
