// ABOUTME: Tests for the deployment orchestrator against a scripted fake session
// ABOUTME: Verifies step order, abort behavior, and both launch paths

package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dashblock/internal/agentconfig"
)

type rule struct {
	match  string
	result CommandResult
}

type call struct {
	cmd   string
	stdin []byte
}

// fakeSession answers commands from rules; the first rule whose match is a
// substring of the command wins, otherwise the command succeeds silently.
type fakeSession struct {
	mu     sync.Mutex
	rules  []rule
	calls  []call
	closed bool
}

func (f *fakeSession) Run(_ context.Context, cmd string, stdin io.Reader) (CommandResult, error) {
	var data []byte
	if stdin != nil {
		var err error
		data, err = io.ReadAll(stdin)
		if err != nil {
			return CommandResult{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{cmd: cmd, stdin: data})
	for _, r := range f.rules {
		if strings.Contains(cmd, r.match) {
			return r.result, nil
		}
	}
	return CommandResult{}, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) find(match string) (call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.Contains(c.cmd, match) {
			return c, true
		}
	}
	return call{}, false
}

func (f *fakeSession) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.cmd
	}
	return out
}

type fakeDialer struct {
	session *fakeSession
	err     error
	target  Target
}

func (d *fakeDialer) Dial(_ context.Context, target Target) (Session, error) {
	d.target = target
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

func homeRule() rule {
	return rule{"echo $HOME", CommandResult{Stdout: "/home/mc\n"}}
}

func newTestOrchestrator(t *testing.T, session *fakeSession) (*Orchestrator, *fakeDialer) {
	t.Helper()

	binary := filepath.Join(t.TempDir(), "dashblock-agent")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\necho agent\n"), 0o755))

	dialer := &fakeDialer{session: session}
	o := New(Options{
		Dialer:      dialer,
		AgentBinary: binary,
		Runtime:     "java",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return o, dialer
}

func testRequest() Request {
	return Request{
		Host:       "10.0.0.5",
		Username:   "mc",
		PrivateKey: []byte("not-a-real-key"),
		ServerPath: "/srv/minecraft",
		AgentKey:   "agent-key-123",
		RelayURL:   "hub.example.com:50051",
	}
}

func TestDeployMissingRuntimeWritesNothing(t *testing.T) {
	session := &fakeSession{rules: []rule{
		{"--version", CommandResult{Stderr: "bash: java: command not found\n", ExitCode: 127}},
	}}
	o, _ := newTestOrchestrator(t, session)

	result := o.Deploy(context.Background(), testRequest())

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "java")
	assert.Equal(t, []string{"'java' --version"}, session.commands(), "nothing may run after a failed runtime probe")
	assert.True(t, session.closed)
}

func TestDeploySudoInstallsService(t *testing.T) {
	session := &fakeSession{rules: []rule{homeRule()}}
	o, dialer := newTestOrchestrator(t, session)

	result := o.Deploy(context.Background(), testRequest())

	require.True(t, result.Success, result.Message)
	assert.Equal(t, "/home/mc/dashblock-agent", result.AgentPath)
	assert.Equal(t, "10.0.0.5:22", dialer.target.Addr())

	unit, ok := session.find("tee " + UnitPath)
	require.True(t, ok, "unit file should be written")
	assert.Contains(t, string(unit.stdin), "Restart=always")
	assert.Contains(t, string(unit.stdin), "RestartSec=10")
	assert.Contains(t, string(unit.stdin), "ExecStart=/home/mc/dashblock-agent/dashblock-agent run --config /home/mc/dashblock-agent/agent.toml")

	_, ok = session.find("systemctl enable " + ServiceName)
	assert.True(t, ok)
	_, ok = session.find("nohup")
	assert.False(t, ok, "sudo path must not launch a detached process")
}

func TestDeployWithoutSudoLaunchesDetached(t *testing.T) {
	session := &fakeSession{rules: []rule{
		homeRule(),
		{"sudo -n true", CommandResult{Stderr: "sudo: a password is required\n", ExitCode: 1}},
		{"pgrep", CommandResult{ExitCode: 1}},
	}}
	o, _ := newTestOrchestrator(t, session)

	result := o.Deploy(context.Background(), testRequest())

	// A failed confirmation probe is logged only.
	require.True(t, result.Success, result.Message)

	cmds := session.commands()
	var order []string
	for _, c := range cmds {
		switch {
		case strings.HasPrefix(c, "pkill"):
			order = append(order, "pkill")
		case strings.Contains(c, "nohup"):
			order = append(order, "nohup")
		case strings.HasPrefix(c, "pgrep"):
			order = append(order, "pgrep")
		case strings.Contains(c, "systemctl"):
			t.Fatalf("non-sudo path ran systemctl: %s", c)
		}
	}
	assert.Equal(t, []string{"pkill", "nohup", "pgrep"}, order)
	assert.Contains(t, cmds, "pkill -f '[d]ashblock-agent run' || true")
}

func TestProcessPatternSkipsItsOwnShell(t *testing.T) {
	pattern := regexp.MustCompile(processPattern())

	assert.True(t, pattern.MatchString("./dashblock-agent run --config agent.toml"))
	assert.False(t, pattern.MatchString("bash -c pkill -f '"+processPattern()+"' || true"))
}

func TestDeployCheckFailureReturnsStderrVerbatim(t *testing.T) {
	stderr := "Error: validating config: agent_key is required\n"
	session := &fakeSession{rules: []rule{
		homeRule(),
		{" check --config", CommandResult{Stderr: stderr, ExitCode: 1}},
	}}
	o, _ := newTestOrchestrator(t, session)

	result := o.Deploy(context.Background(), testRequest())

	assert.False(t, result.Success)
	assert.Equal(t, stderr, result.Message)
	_, ok := session.find("sudo")
	assert.False(t, ok, "launch must not run after a failed install check")
}

func TestDeployUploadsBundleAndConfig(t *testing.T) {
	session := &fakeSession{rules: []rule{homeRule()}}
	o, _ := newTestOrchestrator(t, session)

	result := o.Deploy(context.Background(), testRequest())
	require.True(t, result.Success, result.Message)

	upload, ok := session.find("tar -xzf - -C '/home/mc/dashblock-agent'")
	require.True(t, ok)
	files, err := ReadBundle(strings.NewReader(string(upload.stdin)))
	require.NoError(t, err)
	assert.Contains(t, files, AgentBinaryName)
	assert.Contains(t, files, ManifestName)

	write, ok := session.find("cat > '/home/mc/dashblock-agent/agent.toml'")
	require.True(t, ok)
	assert.Contains(t, write.cmd, "chmod 600")

	path := filepath.Join(t.TempDir(), agentconfig.FileName)
	require.NoError(t, os.WriteFile(path, write.stdin, 0o600))
	cfg, err := agentconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "agent-key-123", cfg.AgentKey)
	assert.Equal(t, "hub.example.com:50051", cfg.RelayURL)
	assert.Equal(t, "/srv/minecraft", cfg.ServerPath)
}

func TestDeployDialFailure(t *testing.T) {
	o, dialer := newTestOrchestrator(t, &fakeSession{})
	dialer.err = errors.New("connection refused")

	result := o.Deploy(context.Background(), testRequest())

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "connection refused")
	assert.Empty(t, result.AgentPath)
}

func TestDeployMessageNeverContainsCredentials(t *testing.T) {
	session := &fakeSession{rules: []rule{
		homeRule(),
		{"mkdir", CommandResult{Stderr: "mkdir: permission denied\n", ExitCode: 1}},
	}}
	o, _ := newTestOrchestrator(t, session)

	req := testRequest()
	result := o.Deploy(context.Background(), req)

	assert.False(t, result.Success)
	assert.NotContains(t, result.Message, req.AgentKey)
	assert.NotContains(t, result.Message, string(req.PrivateKey))
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"/srv/my server", "'/srv/my server'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shellQuote(tt.in))
	}
}
