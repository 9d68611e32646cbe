// Package process checks liveness of other processes by pid.
package process

import (
	"os"
	"syscall"
)

// IsAlive reports whether a process with the given pid is still running.
// It sends signal 0, which on Unix probes existence without side effects.
// A permission error still means the process exists; we just can't signal
// it, so liveness is reported true (safety over liveness, per the lock
// reclaim policy).
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}
