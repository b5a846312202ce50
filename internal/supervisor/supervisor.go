// ABOUTME: Lifecycle state machine for the managed game server process
// ABOUTME: Start, stop, restart, crash detection and periodic reconciliation with the process table

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/2389/dashblock/internal/agentconfig"
	"github.com/2389/dashblock/internal/protocol"
)

// Reporter receives status reports. Report is called without the
// supervisor's state lock held, in the order reports were produced.
type Reporter interface {
	Report(report protocol.StatusReport)
}

// Config controls how the server is launched and watched.
type Config struct {
	Dir            string
	Script         string
	Shell          string
	Java           string
	HeapMax        string
	HeapMin        string
	StopCommand    string
	GracePeriod    time.Duration
	RestartDelay   time.Duration
	ProbeInterval  time.Duration
	ProcessPattern string
	ReadyMarkers   []string
	// Readiness overrides ReadyMarkers for specific variants.
	Readiness map[Variant][]string
}

// ConfigFrom maps the agent's file config onto a supervisor Config.
// cfg must have had defaults applied.
func ConfigFrom(cfg *agentconfig.Config) Config {
	s := cfg.Server
	return Config{
		Dir:            cfg.ServerPath,
		Script:         s.Script,
		Shell:          s.Shell,
		Java:           s.Java,
		HeapMax:        s.HeapMax,
		HeapMin:        s.HeapMin,
		StopCommand:    s.StopCommand,
		GracePeriod:    s.GracePeriod.Std(),
		RestartDelay:   s.RestartDelay.Std(),
		ProbeInterval:  s.ProbeInterval.Std(),
		ProcessPattern: s.ProcessPattern,
		ReadyMarkers:   s.ReadyMarkers,
		Readiness:      readinessFrom(s.Readiness),
	}
}

// readinessFrom converts per-variant markers keyed by variant name.
func readinessFrom(m map[string][]string) map[Variant][]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[Variant][]string, len(m))
	for name, markers := range m {
		out[Variant(name)] = markers
	}
	return out
}

func (c Config) markersFor(v Variant) []string {
	if m, ok := c.Readiness[v]; ok {
		return m
	}
	return c.ReadyMarkers
}

// Options configures a Supervisor.
type Options struct {
	Reporter  Reporter
	Processes ProcessTable
	Logger    *slog.Logger
}

// child is one launched server process.
type child struct {
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	plan          LaunchPlan
	readiness     *ReadinessMatcher
	stopRequested bool
	done          chan struct{}
}

// Supervisor owns the managed server's lifecycle on this host.
type Supervisor struct {
	cfg      Config
	pattern  *regexp.Regexp
	reporter Reporter
	procs    ProcessTable
	logger   *slog.Logger

	// reportMu orders reports; it is taken before mu is released.
	reportMu sync.Mutex

	mu           sync.Mutex
	status       protocol.Status
	child        *child
	console      *consoleState
	variant      Variant
	props        Properties
	forceTimer   *time.Timer
	restartTimer *time.Timer
	startPending bool
	closed       bool

	forcedKills atomic.Int64
}

// New creates a supervisor in the offline state.
func New(cfg Config, opts Options) (*Supervisor, error) {
	pattern, err := regexp.Compile(cfg.ProcessPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling process pattern: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	procs := opts.Processes
	if procs == nil {
		procs = OSProcessTable{}
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = discardReporter{}
	}

	return &Supervisor{
		cfg:      cfg,
		pattern:  pattern,
		reporter: reporter,
		procs:    procs,
		logger:   logger,
		status:   protocol.StatusOffline,
		console:  newConsoleState(),
		variant:  VariantVanilla,
	}, nil
}

type discardReporter struct{}

func (discardReporter) Report(protocol.StatusReport) {}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() protocol.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ForcedKills returns how many times the grace period expired and the
// server was killed.
func (s *Supervisor) ForcedKills() int64 {
	return s.forcedKills.Load()
}

// Snapshot returns the report the supervisor would send now.
func (s *Supervisor) Snapshot() protocol.StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reportLocked()
}

// reportLocked builds a report from current state. Callers hold mu.
func (s *Supervisor) reportLocked() protocol.StatusReport {
	r := protocol.StatusReport{
		Status:     s.status,
		ServerType: protocol.String(string(s.variant)),
		Port:       s.props.Port,
		MaxPlayers: s.props.MaxPlayers,
	}
	if s.console.version != "" {
		r.MCVersion = protocol.String(s.console.version)
	}
	if s.status == protocol.StatusOnline {
		r.PlayersOnline = protocol.Int(s.console.playerCount())
	}
	return r
}

// unlockAndReport releases mu and sends reports in order. Callers hold mu.
func (s *Supervisor) unlockAndReport(reports ...protocol.StatusReport) {
	s.reportMu.Lock()
	s.mu.Unlock()
	defer s.reportMu.Unlock()
	for _, r := range reports {
		s.reporter.Report(r)
	}
}

// HandleCommand applies a command received from the hub.
func (s *Supervisor) HandleCommand(cmd protocol.Command) {
	s.logger.Info("received command", "command", cmd)
	switch cmd {
	case protocol.CommandStart:
		s.Start()
	case protocol.CommandStop:
		s.Stop()
	case protocol.CommandRestart:
		s.Restart()
	default:
		s.logger.Warn("unknown command", "command", cmd)
	}
}

// Start launches the server unless it is already starting or online.
// If a previous process is still shutting down, the start runs when it exits.
func (s *Supervisor) Start() {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return
	case s.status == protocol.StatusStarting || s.status == protocol.StatusOnline:
		s.mu.Unlock()
		s.logger.Info("server is already running or starting")
		return
	case s.child != nil:
		s.startPending = true
		s.mu.Unlock()
		s.logger.Info("server is still stopping, start deferred until it exits")
		return
	}

	s.status = protocol.StatusStarting
	reports := []protocol.StatusReport{s.reportLocked()}

	if err := s.launchLocked(); err != nil {
		s.logger.Error("failed to start server", "error", err)
		s.status = protocol.StatusOffline
		reports = append(reports, s.reportLocked())
	}
	s.unlockAndReport(reports...)
}

// launchLocked spawns the server process. Callers hold mu.
func (s *Supervisor) launchLocked() error {
	plan, err := PlanLaunch(s.cfg)
	if err != nil {
		return err
	}
	s.variant = plan.Variant

	cmd := exec.Command(plan.Path, plan.Args...)
	cmd.Dir = s.cfg.Dir
	configureCommand(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning %s: %w", plan.Path, err)
	}

	c := &child{
		cmd:       cmd,
		stdin:     stdin,
		plan:      plan,
		readiness: NewReadinessMatcher(s.cfg.markersFor(plan.Variant)),
		done:      make(chan struct{}),
	}
	s.child = c
	s.console = newConsoleState()

	s.logger.Info("server process started",
		"pid", cmd.Process.Pid,
		"command", plan.String(),
		"variant", plan.Variant,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readStdout(c, stdout)
	}()
	go func() {
		defer wg.Done()
		s.readStderr(stderr)
	}()
	go s.wait(c, &wg)
	return nil
}

// maxLineLength bounds how much of one console line is kept. The rest of
// a longer line is discarded so the pipe keeps draining.
const maxLineLength = 64 * 1024

// readLines calls fn for every newline-terminated line of r until EOF,
// truncating lines longer than maxLineLength.
func readLines(r io.Reader, fn func(line string)) error {
	br := bufio.NewReaderSize(r, 4096)
	var line []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				fn(string(line))
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if room := maxLineLength - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			line = append(line, chunk...)
		}
		if isPrefix {
			continue
		}
		fn(string(line))
		line = line[:0]
	}
}

func (s *Supervisor) readStdout(c *child, r io.Reader) {
	err := readLines(r, func(line string) {
		s.logger.Debug("server output", "line", line)
		s.observe(c, line)
	})
	if err != nil {
		s.logger.Warn("reading server output", "error", err)
	}
}

// observe applies one stdout line to the state machine.
func (s *Supervisor) observe(c *child, line string) {
	s.mu.Lock()
	if s.child != c {
		s.mu.Unlock()
		return
	}

	playersChanged := s.console.observe(line)
	ready := c.readiness.Observe(line)

	switch {
	case ready && s.status == protocol.StatusStarting:
		s.status = protocol.StatusOnline
		s.logger.Info("server started successfully")
		s.unlockAndReport(s.reportLocked())
	case playersChanged && s.status == protocol.StatusOnline:
		s.unlockAndReport(s.reportLocked())
	default:
		s.mu.Unlock()
	}
}

func (s *Supervisor) readStderr(r io.Reader) {
	err := readLines(r, func(line string) {
		s.logger.Warn("server stderr", "line", line)
	})
	if err != nil {
		s.logger.Warn("reading server stderr", "error", err)
	}
}

// wait reaps the child once its output is drained.
func (s *Supervisor) wait(c *child, output *sync.WaitGroup) {
	defer close(c.done)
	output.Wait()
	err := c.cmd.Wait()

	s.mu.Lock()
	if s.child != c {
		s.mu.Unlock()
		return
	}
	if s.forceTimer != nil {
		s.forceTimer.Stop()
		s.forceTimer = nil
	}
	s.child = nil
	s.console.players = make(map[string]struct{})
	s.status = protocol.StatusOffline

	code := c.cmd.ProcessState.ExitCode()
	if err != nil && !c.stopRequested {
		s.logger.Error("server crashed or failed to start", "exit_code", code, "error", err)
	} else {
		s.logger.Info("server process exited", "exit_code", code)
	}

	pending := s.startPending && !s.closed
	s.startPending = false
	s.unlockAndReport(s.reportLocked())

	if pending {
		s.Start()
	}
}

// Stop asks the server to shut down. With a live process the stop command
// is written to its console and the process is killed if it is still alive
// after the grace period. Without one, matching OS processes are signaled.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.status == protocol.StatusOffline || s.status == protocol.StatusStopping {
		s.mu.Unlock()
		s.logger.Info("server is not running")
		return
	}

	s.status = protocol.StatusStopping
	s.startPending = false
	stopping := s.reportLocked()

	if c := s.child; c != nil {
		c.stopRequested = true
		if _, err := io.WriteString(c.stdin, s.cfg.StopCommand+"\n"); err != nil {
			s.logger.Warn("writing stop command", "error", err)
		}
		if s.forceTimer != nil {
			s.forceTimer.Stop()
		}
		s.forceTimer = time.AfterFunc(s.cfg.GracePeriod, func() { s.forceKill(c) })
		s.logger.Info("stopping server", "grace_period", s.cfg.GracePeriod)
		s.unlockAndReport(stopping)
		return
	}
	s.unlockAndReport(stopping)

	s.killMatching()

	s.mu.Lock()
	if s.status == protocol.StatusStopping && s.child == nil {
		s.status = protocol.StatusOffline
	}
	s.unlockAndReport(s.reportLocked())
}

// forceKill kills c if it is still the live child.
func (s *Supervisor) forceKill(c *child) {
	s.mu.Lock()
	if s.child != c {
		s.mu.Unlock()
		return
	}
	s.forceTimer = nil
	s.mu.Unlock()

	s.forcedKills.Add(1)
	s.logger.Warn("force killing server process", "pid", c.cmd.Process.Pid)
	if err := killProcessGroup(c.cmd.Process); err != nil {
		s.logger.Error("killing server process", "error", err)
	}
}

// killMatching signals every process matching the server pattern.
func (s *Supervisor) killMatching() {
	procs, err := s.procs.Find(s.pattern, s.cfg.Dir)
	if err != nil {
		s.logger.Error("finding server processes", "error", err)
		return
	}
	if len(procs) == 0 {
		s.logger.Info("no running server process found")
	}
	for _, p := range procs {
		s.logger.Info("signaling server process", "pid", p.PID, "cmdline", p.Cmdline)
		if err := s.procs.Signal(p.PID, syscall.SIGTERM); err != nil {
			s.logger.Error("signaling server process", "pid", p.PID, "error", err)
		}
	}
}

// Restart stops the server and starts it again after the restart delay.
// The start runs even if there was nothing to stop.
func (s *Supervisor) Restart() {
	s.logger.Info("restarting server")
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	s.restartTimer = time.AfterFunc(s.cfg.RestartDelay, s.Start)
}

// Probe reconciles state with the process table, re-reads the properties
// file and variant, and always sends a report.
func (s *Supervisor) Probe() {
	procs, findErr := s.procs.Find(s.pattern, s.cfg.Dir)
	if findErr != nil {
		s.logger.Warn("probing process table", "error", findErr)
	}
	running := len(procs) > 0

	props, err := ReadProperties(filepath.Join(s.cfg.Dir, PropertiesFile))
	if err != nil {
		s.logger.Warn("reading server properties", "error", err)
	}
	variant, err := DetectVariant(s.cfg.Dir)
	if err != nil {
		s.logger.Warn("detecting server variant", "error", err)
	}

	s.mu.Lock()
	s.props = props
	s.variant = variant
	// A live child is authoritative; transitional states belong to the
	// state machine while it has one.
	if s.child == nil && findErr == nil {
		switch {
		case running && s.status == protocol.StatusOffline:
			s.logger.Info("found running server process not started by this agent", "pid", procs[0].PID)
			s.status = protocol.StatusOnline
		case !running && (s.status == protocol.StatusOnline || s.status == protocol.StatusStarting):
			s.logger.Info("server process is no longer running")
			s.status = protocol.StatusOffline
		}
	}
	s.unlockAndReport(s.reportLocked())
}

// Run probes immediately and then on every probe interval until ctx is
// canceled, then shuts down.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	s.Probe()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.Probe()
		}
	}
}

// Shutdown stops the server best-effort and cancels pending timers. It does
// not wait for the process to exit.
func (s *Supervisor) Shutdown() {
	s.logger.Info("agent shutting down")
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.startPending = false
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

// Done returns a channel closed when the current server process has been
// reaped, or nil when there is none.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil {
		return nil
	}
	return s.child.done
}
