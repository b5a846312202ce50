// ABOUTME: Tests for the Gateway orchestrator, relay stream and client websocket
// ABOUTME: Uses real gRPC streaming and real websockets against a running gateway

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/dashblock/internal/config"
	"github.com/2389/dashblock/internal/protocol"
	"github.com/2389/dashblock/internal/store"
)

// testConfig creates a minimal config for testing with available ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	// Find available ports
	grpcListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available gRPC port: %v", err)
	}
	grpcAddr := grpcListener.Addr().String()
	grpcListener.Close()

	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := httpListener.Addr().String()
	httpListener.Close()

	return &config.Config{
		Server: config.ServerConfig{
			GRPCAddr: grpcAddr,
			HTTPAddr: httpAddr,
		},
		Database: config.DatabaseConfig{
			Path: ":memory:",
		},
		Relay: config.RelayConfig{
			SendBuffer:       16,
			AuthFlushTimeout: time.Second,
		},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startGateway runs a gateway until the test ends.
func startGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("gateway did not shutdown in time")
		}
	})

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "gateway HTTP server did not start")

	return gw
}

func seedServer(t *testing.T, gw *Gateway, id, key string) {
	t.Helper()
	err := gw.store.CreateServer(context.Background(), &store.Server{ID: id, Name: "Test " + id, AgentKey: key})
	require.NoError(t, err)
}

// dialAgent opens a relay stream to the gateway.
func dialAgent(t *testing.T, cfg *config.Config) protocol.ClientStream {
	t.Helper()

	conn, err := grpc.NewClient(
		cfg.Server.GRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	stream, err := protocol.OpenConnect(t.Context(), conn)
	require.NoError(t, err)
	return stream
}

type recvResult struct {
	frame *protocol.Frame
	err   error
}

func recvFrame(t *testing.T, stream protocol.ClientStream) (*protocol.Frame, error) {
	t.Helper()

	ch := make(chan recvResult, 1)
	go func() {
		f, err := stream.Recv()
		ch <- recvResult{f, err}
	}()

	select {
	case r := <-ch:
		return r.frame, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil, nil
	}
}

func authenticateAgent(t *testing.T, stream protocol.ClientStream, key string) string {
	t.Helper()

	require.NoError(t, stream.Send(ptr(protocol.MustFrame(protocol.TypeAuthenticate, protocol.Authenticate{AgentKey: key}))))
	f, err := recvFrame(t, stream)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeAuthenticated, f.Type)

	var msg protocol.Authenticated
	require.NoError(t, f.Decode(&msg))
	return msg.ServerID
}

func ptr[T any](v T) *T { return &v }

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.hub == nil {
		t.Error("hub should not be nil")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if gw.deployer != nil {
		t.Error("deployer should be nil without deploy settings")
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestReadyEndpoint(t *testing.T) {
	cfg := testConfig(t)
	gw := startGateway(t, cfg)
	seedServer(t, gw, "srv-1", "key-1")

	readyURL := "http://" + cfg.Server.HTTPAddr + "/health/ready"
	resp, err := http.Get(readyURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	stream := dialAgent(t, cfg)
	authenticateAgent(t, stream, "key-1")

	resp, err = http.Get(readyURL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "1 agents")
}

func TestAgentAuthenticateBindsServer(t *testing.T) {
	cfg := testConfig(t)
	gw := startGateway(t, cfg)
	seedServer(t, gw, "srv-1", "key-1")

	stream := dialAgent(t, cfg)
	serverID := authenticateAgent(t, stream, "key-1")
	assert.Equal(t, "srv-1", serverID)

	srv, err := gw.store.GetServer(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.True(t, srv.IsConnected)
	assert.NotNil(t, srv.LastSeen)
	assert.Equal(t, 1, gw.hub.AgentsFor("srv-1"))
}

func TestAgentInvalidKeyClosesStream(t *testing.T) {
	cfg := testConfig(t)
	gw := startGateway(t, cfg)
	seedServer(t, gw, "srv-1", "key-1")

	stream := dialAgent(t, cfg)
	require.NoError(t, stream.Send(ptr(protocol.MustFrame(protocol.TypeAuthenticate, protocol.Authenticate{AgentKey: "wrong"}))))

	f, err := recvFrame(t, stream)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeAuthError, f.Type)

	var msg protocol.AuthError
	require.NoError(t, f.Decode(&msg))
	assert.Equal(t, "Invalid agent key", msg.Message)

	_, err = recvFrame(t, stream)
	assert.ErrorIs(t, err, io.EOF, "stream should end after auth_error")
	assert.Equal(t, 0, gw.hub.AuthenticatedAgents())
}

func TestAgentDisconnectMarksServerOffline(t *testing.T) {
	cfg := testConfig(t)
	gw := startGateway(t, cfg)
	seedServer(t, gw, "srv-1", "key-1")

	stream := dialAgent(t, cfg)
	authenticateAgent(t, stream, "key-1")
	require.NoError(t, stream.CloseSend())

	require.Eventually(t, func() bool {
		srv, err := gw.store.GetServer(context.Background(), "srv-1")
		return err == nil && !srv.IsConnected
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, gw.hub.AgentsFor("srv-1"))
}

func TestCommandReachesAgent(t *testing.T) {
	cfg := testConfig(t)
	gw := startGateway(t, cfg)
	seedServer(t, gw, "srv-1", "key-1")

	stream := dialAgent(t, cfg)
	authenticateAgent(t, stream, "key-1")

	body := bytes.NewBufferString(`{"serverId":"srv-1","command":"restart"}`)
	resp, err := http.Post("http://"+cfg.Server.HTTPAddr+"/internal/command", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cr CommandResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cr))
	assert.True(t, cr.Success)
	assert.Equal(t, protocol.CommandRestart, cr.Command)
	assert.Equal(t, 1, cr.Delivered)

	f, err := recvFrame(t, stream)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeCommand, f.Type)
	var cmd protocol.CommandFrame
	require.NoError(t, f.Decode(&cmd))
	assert.Equal(t, protocol.CommandRestart, cmd.Command)
}

func dialClient(t *testing.T, cfg *config.Config) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+cfg.Server.HTTPAddr+"/ws/client", nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readClientFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f protocol.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestStatusUpdateFansOutToWatchingClients(t *testing.T) {
	cfg := testConfig(t)
	gw := startGateway(t, cfg)
	seedServer(t, gw, "srv-1", "key-1")

	clients := []*websocket.Conn{dialClient(t, cfg), dialClient(t, cfg)}
	for _, c := range clients {
		require.NoError(t, c.WriteJSON(protocol.MustFrame(protocol.TypeWatchServer, protocol.WatchServer{ServerID: "srv-1"})))
	}
	require.Eventually(t, func() bool { return gw.hub.WatchersOf("srv-1") == 2 }, 5*time.Second, 10*time.Millisecond)

	stream := dialAgent(t, cfg)
	authenticateAgent(t, stream, "key-1")

	report := protocol.StatusReport{
		Status:     protocol.StatusOnline,
		Port:       protocol.Int(25565),
		MaxPlayers: protocol.Int(20),
	}
	require.NoError(t, stream.Send(ptr(protocol.MustFrame(protocol.TypeStatusUpdate, report))))

	for i, c := range clients {
		f := readClientFrame(t, c)
		require.Equal(t, protocol.TypeServerUpdate, f.Type, "client %d", i)

		var update protocol.ServerUpdate
		require.NoError(t, f.Decode(&update))
		assert.Equal(t, "srv-1", update.ServerID)
		assert.Equal(t, protocol.StatusOnline, update.Status)
		require.NotNil(t, update.Port)
		assert.Equal(t, 25565, *update.Port)
		require.NotNil(t, update.MaxPlayers)
		assert.Equal(t, 20, *update.MaxPlayers)
	}

	srv, err := gw.store.GetServer(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "online", srv.Status)
	assert.Equal(t, 25565, srv.Port)
}

func TestClientMalformedFrameGetsError(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)

	conn := dialClient(t, cfg)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	f := readClientFrame(t, conn)
	assert.Equal(t, protocol.TypeError, f.Type)
}

func TestClientDisconnectLeavesRooms(t *testing.T) {
	cfg := testConfig(t)
	gw := startGateway(t, cfg)

	conn := dialClient(t, cfg)
	require.NoError(t, conn.WriteJSON(protocol.MustFrame(protocol.TypeWatchServer, protocol.WatchServer{ServerID: "srv-1"})))
	require.Eventually(t, func() bool { return gw.hub.WatchersOf("srv-1") == 1 }, 5*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return gw.hub.WatchersOf("srv-1") == 0 && gw.hub.Clients() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
