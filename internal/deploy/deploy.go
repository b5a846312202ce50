// ABOUTME: Deployment orchestrator installing the agent on a remote host
// ABOUTME: Strictly sequential steps; the first failure aborts with the best remote diagnostic

package deploy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/dashblock/internal/agentconfig"
)

// InstallDirName is created under the remote user's home directory.
const InstallDirName = "dashblock-agent"

// Request is one deployment.
type Request struct {
	Host       string
	Port       int
	Username   string
	PrivateKey []byte
	Passphrase []byte
	// ServerPath is the managed server directory on the remote host.
	ServerPath string
	AgentKey   string
	RelayURL   string
}

// Result is reported back to the caller. Success is true only when every
// required step completed.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	AgentPath string `json:"agentPath,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	Dialer Dialer
	// AgentBinary is the local agent build to ship.
	AgentBinary string
	// Runtime is probed with --version before anything is written.
	Runtime      string
	ConfirmDelay time.Duration
	Logger       *slog.Logger
	// Now overrides the clock used for bundle timestamps.
	Now func() time.Time
}

// Orchestrator runs deployments. It holds no per-deployment state, so
// concurrent Deploy calls are independent.
type Orchestrator struct {
	dialer       Dialer
	agentBinary  string
	runtime      string
	confirmDelay time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runtime := opts.Runtime
	if runtime == "" {
		runtime = "java"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		dialer:       opts.Dialer,
		agentBinary:  opts.AgentBinary,
		runtime:      runtime,
		confirmDelay: opts.ConfirmDelay,
		logger:       logger,
		now:          now,
	}
}

// stepError aborts a deployment with a user-facing message.
type stepError struct {
	message string
}

func (e *stepError) Error() string { return e.message }

func fail(format string, args ...any) error {
	return &stepError{message: fmt.Sprintf(format, args...)}
}

// run is one deployment against an open session.
type run struct {
	o          *Orchestrator
	session    Session
	req        Request
	logger     *slog.Logger
	installDir string
}

// Deploy installs the agent on req.Host and arranges for it to run
// unattended. It never returns an error; failures are reported in Result.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) Result {
	logger := o.logger.With("host", req.Host, "user", req.Username)
	logger.Info("deployment started")

	session, err := o.dialer.Dial(ctx, Target{
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		PrivateKey: req.PrivateKey,
		Passphrase: req.Passphrase,
	})
	if err != nil {
		logger.Warn("deployment failed to connect", "error", err)
		return Result{Message: fmt.Sprintf("SSH connection failed: %v", err)}
	}
	defer session.Close()

	r := &run{o: o, session: session, req: req, logger: logger}
	message, err := r.execute(ctx)
	if err != nil {
		logger.Warn("deployment failed", "error", err)
		return Result{Message: err.Error(), AgentPath: r.installDir}
	}

	logger.Info("deployment finished", "agent_path", r.installDir)
	return Result{Success: true, Message: message, AgentPath: r.installDir}
}

func (r *run) execute(ctx context.Context) (string, error) {
	steps := []func(context.Context) error{
		r.checkRuntime,
		r.prepareInstallDir,
		r.uploadBundle,
		r.writeConfig,
		r.verifyInstall,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return "", err
		}
	}
	return r.launch(ctx)
}

// exec runs cmd and turns transport errors into step errors.
func (r *run) exec(ctx context.Context, what, cmd string, stdin []byte) (CommandResult, error) {
	var in io.Reader
	if stdin != nil {
		in = bytes.NewReader(stdin)
	}
	r.logger.Debug("remote step", "step", what)

	res, err := r.session.Run(ctx, cmd, in)
	if err != nil {
		return res, fail("%s: %v", what, err)
	}
	return res, nil
}

// diagnostic picks the best remote error text for a failed command.
func diagnostic(res CommandResult) string {
	if s := strings.TrimSpace(res.Stderr); s != "" {
		return res.Stderr
	}
	if s := strings.TrimSpace(res.Stdout); s != "" {
		return res.Stdout
	}
	return fmt.Sprintf("exit status %d", res.ExitCode)
}

func (r *run) checkRuntime(ctx context.Context) error {
	rt := r.o.runtime
	res, err := r.exec(ctx, "checking runtime", shellQuote(rt)+" --version", nil)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fail("%s is not installed on %s. Install a %s runtime (for example a headless JDK from your distribution's packages) and run the deployment again.", rt, r.req.Host, rt)
	}
	return nil
}

func (r *run) prepareInstallDir(ctx context.Context) error {
	res, err := r.exec(ctx, "resolving home directory", "echo $HOME", nil)
	if err != nil {
		return err
	}
	home := strings.TrimSpace(res.Stdout)
	if !res.OK() || home == "" {
		return fail("could not resolve remote home directory: %s", diagnostic(res))
	}

	r.installDir = strings.TrimSuffix(home, "/") + "/" + InstallDirName
	res, err = r.exec(ctx, "creating install directory", "mkdir -p "+shellQuote(r.installDir), nil)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fail("creating %s failed: %s", r.installDir, diagnostic(res))
	}
	return nil
}

func (r *run) uploadBundle(ctx context.Context) error {
	bundle, manifest, err := BuildBundle(r.o.agentBinary, r.o.now())
	if err != nil {
		return fail("preparing agent bundle: %v", err)
	}

	res, err := r.exec(ctx, "uploading agent", "tar -xzf - -C "+shellQuote(r.installDir), bundle)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fail("uploading agent failed: %s", diagnostic(res))
	}
	r.logger.Info("agent uploaded", "sha256", manifest.SHA256, "size", manifest.Size)
	return nil
}

func (r *run) configPath() string {
	return r.installDir + "/" + agentconfig.FileName
}

func (r *run) writeConfig(ctx context.Context) error {
	cfg := &agentconfig.Config{
		AgentKey:   r.req.AgentKey,
		RelayURL:   r.req.RelayURL,
		ServerPath: r.req.ServerPath,
	}
	var buf bytes.Buffer
	if err := agentconfig.Encode(&buf, cfg); err != nil {
		return fail("generating agent config: %v", err)
	}

	path := shellQuote(r.configPath())
	cmd := "umask 077 && cat > " + path + " && chmod 600 " + path
	res, err := r.exec(ctx, "writing agent config", cmd, buf.Bytes())
	if err != nil {
		return err
	}
	if !res.OK() {
		return fail("writing agent config failed: %s", diagnostic(res))
	}
	return nil
}

// verifyInstall runs the agent's own config check on the host. Its stderr
// is the diagnostic returned to the caller.
func (r *run) verifyInstall(ctx context.Context) error {
	cmd := "cd " + shellQuote(r.installDir) + " && ./" + AgentBinaryName + " check --config " + agentconfig.FileName
	res, err := r.exec(ctx, "verifying install", cmd, nil)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fail("%s", diagnostic(res))
	}
	return nil
}

func (r *run) launch(ctx context.Context) (string, error) {
	res, err := r.exec(ctx, "probing sudo", "sudo -n true", nil)
	if err != nil {
		return "", err
	}
	if res.OK() {
		return r.installService(ctx)
	}
	return r.launchDetached(ctx)
}

func (r *run) installService(ctx context.Context) (string, error) {
	unit, err := RenderUnit(UnitParams{
		User:       r.req.Username,
		InstallDir: r.installDir,
		ServerPath: r.req.ServerPath,
	})
	if err != nil {
		return "", fail("%v", err)
	}

	res, err := r.exec(ctx, "writing service unit", "sudo -n tee "+UnitPath+" > /dev/null", []byte(unit))
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fail("writing %s failed: %s", UnitPath, diagnostic(res))
	}

	cmd := "sudo -n systemctl daemon-reload && sudo -n systemctl enable " + ServiceName + " && sudo -n systemctl restart " + ServiceName
	res, err = r.exec(ctx, "enabling service", cmd, nil)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fail("enabling %s failed: %s", ServiceName, diagnostic(res))
	}

	return fmt.Sprintf("Agent installed at %s and running as systemd service %s", r.installDir, ServiceName), nil
}

// processPattern matches a running agent for pkill and pgrep. The leading
// bracket class keeps it from matching the remote shell running the pkill.
func processPattern() string {
	return "[" + AgentBinaryName[:1] + "]" + AgentBinaryName[1:] + " run"
}

func (r *run) launchDetached(ctx context.Context) (string, error) {
	r.logger.Info("no passwordless sudo, launching agent in background")

	if _, err := r.exec(ctx, "stopping previous agent", "pkill -f "+shellQuote(processPattern())+" || true", nil); err != nil {
		return "", err
	}

	cmd := "cd " + shellQuote(r.installDir) + " && nohup ./" + AgentBinaryName +
		" run --config " + agentconfig.FileName + " > agent.log 2>&1 < /dev/null &"
	res, err := r.exec(ctx, "launching agent", cmd, nil)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fail("launching agent failed: %s", diagnostic(res))
	}

	select {
	case <-time.After(r.o.confirmDelay):
	case <-ctx.Done():
		return "", fail("waiting for agent: %v", ctx.Err())
	}

	res, err = r.exec(ctx, "confirming agent", "pgrep -f "+shellQuote(processPattern()), nil)
	if err != nil || !res.OK() {
		r.logger.Warn("could not confirm agent is running", "error", err)
	}

	return fmt.Sprintf("Agent installed at %s and started in the background (no passwordless sudo, so it will not survive a reboot)", r.installDir), nil
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
