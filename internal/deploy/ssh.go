// ABOUTME: Remote command sessions over SSH for the deployment orchestrator
// ABOUTME: Key-based auth with optional known_hosts checking; one client per deployment

package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultSSHPort is used when a request leaves the port unset.
const DefaultSSHPort = 22

// Target identifies a host and the credentials to reach it.
// Credential bytes are never logged.
type Target struct {
	Host       string
	Port       int
	Username   string
	PrivateKey []byte
	Passphrase []byte
}

// Addr returns host:port with the default port applied.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// CommandResult is the outcome of one remote command. A nonzero ExitCode
// is not an error; errors are reserved for transport failures.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports whether the command exited zero.
func (r CommandResult) OK() bool { return r.ExitCode == 0 }

// Session runs commands on one remote host.
type Session interface {
	// Run executes cmd through the remote shell. stdin may be nil.
	Run(ctx context.Context, cmd string, stdin io.Reader) (CommandResult, error)
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Session, error)
}

// SSHDialer opens sessions with golang.org/x/crypto/ssh.
type SSHDialer struct {
	// KnownHostsFile is an OpenSSH known_hosts file. When empty any host key
	// is accepted and a warning is logged.
	KnownHostsFile string
	Timeout        time.Duration
	Logger         *slog.Logger
}

// Dial connects and authenticates with the target's private key.
func (d *SSHDialer) Dial(ctx context.Context, target Target) (Session, error) {
	signer, err := parseSigner(target.PrivateKey, target.Passphrase)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := d.hostKeyCallback(target.Addr())
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.Timeout,
	}

	addr := target.Addr()
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &sshSession{client: ssh.NewClient(c, chans, reqs)}, nil
}

func (d *SSHDialer) hostKeyCallback(addr string) (ssh.HostKeyCallback, error) {
	if d.KnownHostsFile == "" {
		if d.Logger != nil {
			d.Logger.Warn("no known_hosts configured, accepting any host key", "addr", addr)
		}
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path, err := expandHome(d.KnownHostsFile)
	if err != nil {
		return nil, err
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", path, err)
	}
	return cb, nil
}

func parseSigner(key, passphrase []byte) (ssh.Signer, error) {
	if len(key) == 0 {
		return nil, errors.New("private key is required")
	}
	var (
		signer ssh.Signer
		err    error
	)
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		// The parse error never echoes key material.
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return signer, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// sshSession runs each command on a fresh ssh.Session of one client.
type sshSession struct {
	client *ssh.Client
}

func (s *sshSession) Run(ctx context.Context, cmd string, stdin io.Reader) (CommandResult, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return CommandResult{}, fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Close()
		return CommandResult{}, ctx.Err()
	}

	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	default:
		return result, fmt.Errorf("running remote command: %w", err)
	}
	return result, nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
