// ABOUTME: Tests for the agent relay client against an in-process gRPC relay
// ABOUTME: The fake relay controls authentication outcomes and stream loss

package relayclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/2389/dashblock/internal/protocol"
)

const testKey = "key-abc"

type fakeRelay struct {
	mu       sync.Mutex
	connects int
	// dropFirst ends the first authenticated session immediately.
	dropFirst bool

	received chan protocol.Frame
	streams  chan protocol.RelayStream
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		received: make(chan protocol.Frame, 64),
		streams:  make(chan protocol.RelayStream, 4),
	}
}

func (f *fakeRelay) Connect(stream protocol.RelayStream) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	var auth protocol.Authenticate
	if err := first.Decode(&auth); err != nil || auth.AgentKey != testKey {
		reject := protocol.MustFrame(protocol.TypeAuthError, protocol.AuthError{Message: "Invalid agent key"})
		return stream.Send(&reject)
	}

	f.mu.Lock()
	f.connects++
	n := f.connects
	f.mu.Unlock()

	ok := protocol.MustFrame(protocol.TypeAuthenticated, protocol.Authenticated{ServerID: "srv-1"})
	if err := stream.Send(&ok); err != nil {
		return err
	}
	if f.dropFirst && n == 1 {
		return nil
	}
	f.streams <- stream

	for {
		fr, err := stream.Recv()
		if err != nil {
			return nil
		}
		f.received <- *fr
	}
}

func (f *fakeRelay) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func startRelay(t *testing.T, relay *fakeRelay) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	protocol.RegisterAgentRelayServer(srv, relay)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

type fakeHandler struct {
	mu       sync.Mutex
	commands []protocol.Command
	probes   int
	probed   chan struct{}
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{probed: make(chan struct{}, 8)}
}

func (h *fakeHandler) HandleCommand(cmd protocol.Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)
}

func (h *fakeHandler) Probe() {
	h.mu.Lock()
	h.probes++
	h.mu.Unlock()
	h.probed <- struct{}{}
}

func (h *fakeHandler) seen() []protocol.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.Command(nil), h.commands...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runClient runs c until the test ends and returns Run's result channel.
func runClient(t *testing.T, c *Client, h Handler) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- c.Run(ctx, h)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Error("client did not stop")
		}
	})
	return done
}

func waitProbe(t *testing.T, h *fakeHandler) {
	t.Helper()
	select {
	case <-h.probed:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for probe")
	}
}

func TestClientAuthenticatesAndProbes(t *testing.T) {
	relay := newFakeRelay()
	addr := startRelay(t, relay)
	h := newFakeHandler()
	c := New(Options{Addr: addr, AgentKey: testKey, Logger: testLogger()})

	runClient(t, c, h)
	waitProbe(t, h)

	assert.Equal(t, "srv-1", c.ServerID())
	assert.Equal(t, 1, relay.connectCount())
}

func TestClientAppliesCommands(t *testing.T) {
	relay := newFakeRelay()
	addr := startRelay(t, relay)
	h := newFakeHandler()
	c := New(Options{Addr: addr, AgentKey: testKey, Logger: testLogger()})

	runClient(t, c, h)
	waitProbe(t, h)

	stream := <-relay.streams
	for _, cmd := range []protocol.Command{protocol.CommandStart, protocol.CommandRestart} {
		f := protocol.MustFrame(protocol.TypeCommand, protocol.CommandFrame{Command: cmd})
		require.NoError(t, stream.Send(&f))
	}

	require.Eventually(t, func() bool { return len(h.seen()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []protocol.Command{protocol.CommandStart, protocol.CommandRestart}, h.seen())
}

func TestClientReportSendsStatusUpdate(t *testing.T) {
	relay := newFakeRelay()
	addr := startRelay(t, relay)
	h := newFakeHandler()
	c := New(Options{Addr: addr, AgentKey: testKey, Logger: testLogger()})

	runClient(t, c, h)
	waitProbe(t, h)

	c.Report(protocol.StatusReport{Status: protocol.StatusOnline, PlayersOnline: protocol.Int(3)})

	select {
	case f := <-relay.received:
		require.Equal(t, protocol.TypeStatusUpdate, f.Type)
		var report protocol.StatusReport
		require.NoError(t, f.Decode(&report))
		assert.Equal(t, protocol.StatusOnline, report.Status)
		require.NotNil(t, report.PlayersOnline)
		assert.Equal(t, 3, *report.PlayersOnline)
		assert.Nil(t, report.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for status_update")
	}
}

func TestClientReportBeforeAuthenticationIsDropped(t *testing.T) {
	c := New(Options{Addr: "127.0.0.1:1", AgentKey: testKey, Logger: testLogger()})

	c.Report(protocol.StatusReport{Status: protocol.StatusOffline})

	assert.Empty(t, c.ServerID())
}

func TestClientAuthRejectedStopsRunning(t *testing.T) {
	relay := newFakeRelay()
	addr := startRelay(t, relay)
	h := newFakeHandler()
	c := New(Options{Addr: addr, AgentKey: "wrong", ReconnectDelay: 10 * time.Millisecond, Logger: testLogger()})

	done := runClient(t, c, h)

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrAuthRejected), "got %v", err)
		assert.Contains(t, err.Error(), "Invalid agent key")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after auth_error")
	}
	assert.Equal(t, 0, relay.connectCount())
}

func TestClientReconnectsAfterStreamLoss(t *testing.T) {
	relay := newFakeRelay()
	relay.dropFirst = true
	addr := startRelay(t, relay)
	h := newFakeHandler()
	c := New(Options{Addr: addr, AgentKey: testKey, ReconnectDelay: 50 * time.Millisecond, Logger: testLogger()})

	runClient(t, c, h)
	waitProbe(t, h)
	waitProbe(t, h)

	assert.Equal(t, 2, relay.connectCount())
	select {
	case <-relay.streams:
	case <-time.After(5 * time.Second):
		t.Fatal("second session never reached the relay loop")
	}
}

func TestClientRetriesWhenHubUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	h := newFakeHandler()
	c := New(Options{Addr: addr, AgentKey: testKey, ReconnectDelay: 50 * time.Millisecond, Logger: testLogger()})
	runClient(t, c, h)

	// Bring the relay up on the same address after a few failed attempts.
	time.Sleep(150 * time.Millisecond)
	lis, err = net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("address reused by another process: %v", err)
	}
	relay := newFakeRelay()
	srv := grpc.NewServer()
	protocol.RegisterAgentRelayServer(srv, relay)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	waitProbe(t, h)
	assert.Equal(t, 1, relay.connectCount())
}
