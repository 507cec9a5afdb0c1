//go:build windows

package process

import (
	"errors"
	"os/exec"
	"strconv"
	"syscall"
)

// terminateGroup has no graceful equivalent for console-less children on
// Windows; the tree is killed like killGroup.
func terminateGroup(pid int) error {
	return killGroup(pid)
}

// killGroup kills pid and all of its descendants.
func killGroup(pid int) error {
	cmd := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid))
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNoWindow}
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		// 128: no such process
		if errors.As(err, &ee) && ee.ExitCode() == 128 {
			return nil
		}
		return err
	}
	return nil
}
