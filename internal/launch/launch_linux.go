//go:build linux

package launch

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in a new session so it has no controlling
// terminal and survives the manager's exit and the terminal's hangup.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
