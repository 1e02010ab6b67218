//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// signalGroup signals the process group led by pid, then pid alone if the
// group is gone or not ours to signal.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.EPERM) {
		return syscall.Kill(pid, sig)
	}
	return err
}
