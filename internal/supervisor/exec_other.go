//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

func configureCommand(cmd *exec.Cmd) {}

func killProcessGroup(p *os.Process) error {
	return p.Kill()
}
