//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child in its own process group so that
// grandchildren (e.g. a backgrounded `sleep` spawned by a shell script) can
// be killed together with it.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the entire process group.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
