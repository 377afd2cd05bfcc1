//go:build windows

package sandbox

import "os/exec"

// configureProcessGroup is a no-op placeholder on Windows; job-object based
// grandchild termination is an implementation detail of the concrete
// sandbox (Windows restricted token), which is out of scope here.
func configureProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills only the direct child on Windows.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
