//go:build !windows

package worker

import (
	"os/exec"
	"syscall"
)

// detach starts the worker in its own session so it survives the bridge and
// does not receive its terminal signals.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
