// ABOUTME: Agent side of the relay stream: authenticate, receive commands, send status reports
// ABOUTME: Reconnects after a fixed delay forever unless the hub rejects the agent key

package relayclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/dashblock/internal/protocol"
)

// ErrAuthRejected is returned by Run when the hub answers with auth_error.
// Retrying with the same key cannot succeed, so the agent should exit.
var ErrAuthRejected = errors.New("agent key rejected by hub")

// DefaultReconnectDelay is used when Options.ReconnectDelay is zero.
const DefaultReconnectDelay = 5 * time.Second

// Handler is what the client drives once a session is authenticated.
type Handler interface {
	HandleCommand(cmd protocol.Command)
	// Probe is called right after each successful authentication so the
	// hub learns the current state without waiting for the next interval.
	Probe()
}

// Options configures a Client.
type Options struct {
	// Addr is the hub's gRPC address, host:port.
	Addr           string
	AgentKey       string
	TLS            bool
	ReconnectDelay time.Duration
	Logger         *slog.Logger
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// Client maintains the agent's session with the hub.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	stream   protocol.ClientStream
	serverID string

	// sendMu serializes Send; a gRPC stream allows one sender at a time.
	sendMu sync.Mutex
}

// New creates a client. It does not connect until Run is called.
func New(opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: opts, logger: logger}
}

// Run connects and serves sessions until ctx is canceled or the key is
// rejected. Connection failures and stream loss are retried after the
// reconnect delay.
func (c *Client) Run(ctx context.Context, h Handler) error {
	for {
		err := c.session(ctx, h)
		if errors.Is(err, ErrAuthRejected) {
			c.logger.Error("authentication failed", "error", err)
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("disconnected from hub, reconnecting",
			"error", err,
			"delay", c.opts.ReconnectDelay,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Client) dialOptions() []grpc.DialOption {
	creds := insecure.NewCredentials()
	if c.opts.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: false,
		}),
	}
	return append(opts, c.opts.DialOptions...)
}

// session runs one connection from dial to stream loss.
func (c *Client) session(ctx context.Context, h Handler) error {
	conn, err := grpc.NewClient(c.opts.Addr, c.dialOptions()...)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := protocol.OpenConnect(ctx, conn)
	if err != nil {
		return fmt.Errorf("opening relay stream: %w", err)
	}

	auth := protocol.MustFrame(protocol.TypeAuthenticate, protocol.Authenticate{AgentKey: c.opts.AgentKey})
	if err := stream.Send(&auth); err != nil {
		return fmt.Errorf("sending authenticate: %w", err)
	}

	serverID, err := awaitAuthentication(stream)
	if err != nil {
		return err
	}
	c.logger.Info("authenticated with hub", "server_id", serverID)

	c.setStream(stream, serverID)
	defer c.setStream(nil, "")

	h.Probe()

	for {
		f, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return errors.New("hub closed the stream")
		}
		if err != nil {
			return fmt.Errorf("receiving: %w", err)
		}

		switch f.Type {
		case protocol.TypeCommand:
			var cmd protocol.CommandFrame
			if err := f.Decode(&cmd); err != nil {
				c.logger.Warn("ignoring malformed command", "error", err)
				continue
			}
			h.HandleCommand(cmd.Command)
		default:
			c.logger.Debug("ignoring frame", "type", f.Type)
		}
	}
}

// awaitAuthentication reads the hub's answer to authenticate.
func awaitAuthentication(stream protocol.ClientStream) (string, error) {
	f, err := stream.Recv()
	if err != nil {
		return "", fmt.Errorf("waiting for authentication: %w", err)
	}
	switch f.Type {
	case protocol.TypeAuthenticated:
		var ok protocol.Authenticated
		if err := f.Decode(&ok); err != nil {
			return "", err
		}
		return ok.ServerID, nil
	case protocol.TypeAuthError:
		var rejected protocol.AuthError
		if err := f.Decode(&rejected); err != nil {
			return "", fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		return "", fmt.Errorf("%w: %s", ErrAuthRejected, rejected.Message)
	default:
		return "", fmt.Errorf("unexpected %s frame before authentication", f.Type)
	}
}

func (c *Client) setStream(stream protocol.ClientStream, serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = stream
	c.serverID = serverID
}

// ServerID returns the server the current session is bound to, or "" when
// not authenticated.
func (c *Client) ServerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverID
}

// Report sends a status_update. Reports made while not authenticated are
// dropped; the next session starts with a fresh probe.
func (c *Client) Report(report protocol.StatusReport) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		c.logger.Debug("not connected, dropping status report", "status", report.Status)
		return
	}

	f, err := protocol.NewFrame(protocol.TypeStatusUpdate, report)
	if err != nil {
		c.logger.Error("encoding status report", "error", err)
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := stream.Send(&f); err != nil {
		c.logger.Warn("sending status report", "error", err)
	}
}
