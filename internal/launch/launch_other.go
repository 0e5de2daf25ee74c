//go:build !linux

package launch

import "os/exec"

// configureSysProcAttr is a no-op off Linux; the rig only runs on Linux hosts.
func configureSysProcAttr(_ *exec.Cmd) {}
