// ABOUTME: OS process table access for reconciliation and handle-less stop
// ABOUTME: Lists processes with go-ps and refines matches with /proc cmdline and cwd

package supervisor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	ps "github.com/mitchellh/go-ps"
)

// Process is one entry of the OS process table.
type Process struct {
	PID     int
	Cmdline string
}

// ProcessTable finds and signals managed server processes that the
// supervisor may not have started itself.
type ProcessTable interface {
	// Find returns processes whose command line matches pattern. When dir is
	// set, processes known to run in another directory are excluded.
	Find(pattern *regexp.Regexp, dir string) ([]Process, error)
	Signal(pid int, sig os.Signal) error
}

// OSProcessTable reads the real process table.
type OSProcessTable struct {
	// ProcRoot is the procfs mount; empty means /proc.
	ProcRoot string
}

func (t OSProcessTable) procRoot() string {
	if t.ProcRoot == "" {
		return "/proc"
	}
	return t.ProcRoot
}

// Find lists processes with go-ps. On Linux the full command line and
// working directory come from procfs; elsewhere only the executable name
// is matched and the directory check is skipped.
func (t OSProcessTable) Find(pattern *regexp.Regexp, dir string) ([]Process, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	self := os.Getpid()
	var matches []Process
	for _, p := range procs {
		if p.Pid() == self {
			continue
		}
		cmdline := t.cmdline(p.Pid())
		if cmdline == "" {
			cmdline = p.Executable()
		}
		if !pattern.MatchString(cmdline) {
			continue
		}
		if dir != "" && !t.runsIn(p.Pid(), dir) {
			continue
		}
		matches = append(matches, Process{PID: p.Pid(), Cmdline: cmdline})
	}
	return matches, nil
}

func (t OSProcessTable) cmdline(pid int) string {
	data, err := os.ReadFile(filepath.Join(t.procRoot(), strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(bytes.ReplaceAll(data, []byte{0}, []byte{' '})))
}

// runsIn reports whether pid's cwd is dir. Unknown cwd counts as a match.
func (t OSProcessTable) runsIn(pid int, dir string) bool {
	cwd, err := os.Readlink(filepath.Join(t.procRoot(), strconv.Itoa(pid), "cwd"))
	if err != nil {
		return true
	}
	want, err := filepath.Abs(dir)
	if err != nil {
		return true
	}
	if resolved, err := filepath.EvalSymlinks(want); err == nil {
		want = resolved
	}
	return filepath.Clean(cwd) == want
}

// Signal delivers sig to pid.
func (t OSProcessTable) Signal(pid int, sig os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	return p.Signal(sig)
}
