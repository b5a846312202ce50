//go:build unix

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// configureCommand runs the server in its own process group so a forced
// kill reaches processes started by a start script.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		return p.Kill()
	}
	return nil
}
