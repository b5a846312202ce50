// ABOUTME: End-to-end test wiring a real agent (relay client plus supervisor) to a running gateway
// ABOUTME: A shell script stands in for the game server

package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dashblock/internal/agentconfig"
	"github.com/2389/dashblock/internal/protocol"
	"github.com/2389/dashblock/internal/relayclient"
	"github.com/2389/dashblock/internal/supervisor"
)

const e2eScript = `echo "Starting minecraft server version 1.21.1"
echo 'Done (0.1s)! For help, type "help"'
while read line; do
  if [ "$line" = "stop" ]; then exit 0; fi
done
`

func TestAgentEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	gw := startGateway(t, cfg)
	seedServer(t, gw, "srv-e2e", "e2e-key")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "start.sh"), []byte(e2eScript), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.properties"), []byte("server-port=25570\nmax-players=8\n"), 0o644))

	client := relayclient.New(relayclient.Options{
		Addr:           cfg.Server.GRPCAddr,
		AgentKey:       "e2e-key",
		ReconnectDelay: 50 * time.Millisecond,
		Logger:         testLogger(),
	})
	sup, err := supervisor.New(supervisor.Config{
		Dir:            dir,
		Script:         "start.sh",
		Shell:          "sh",
		StopCommand:    "stop",
		GracePeriod:    5 * time.Second,
		RestartDelay:   50 * time.Millisecond,
		ProbeInterval:  time.Hour,
		ProcessPattern: agentconfig.DefaultProcessPattern,
		ReadyMarkers:   agentconfig.DefaultReadyMarkers,
	}, supervisor.Options{Reporter: client, Logger: testLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx, sup) }()
	t.Cleanup(func() {
		cancel()
		sup.Shutdown()
		if done := sup.Done(); done != nil {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Error("server process did not exit")
			}
		}
		select {
		case <-runErr:
		case <-time.After(5 * time.Second):
			t.Error("agent did not stop")
		}
	})

	// The probe on authentication reports properties before any command.
	require.Eventually(t, func() bool {
		s, err := gw.store.GetServer(context.Background(), "srv-e2e")
		return err == nil && s.IsConnected && s.Port == 25570 && s.MaxPlayers == 8
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, 1, gw.Hub().DispatchCommand("srv-e2e", protocol.CommandStart))
	require.Eventually(t, func() bool {
		s, err := gw.store.GetServer(context.Background(), "srv-e2e")
		return err == nil && s.Status == string(protocol.StatusOnline)
	}, 5*time.Second, 20*time.Millisecond)

	s, err := gw.store.GetServer(context.Background(), "srv-e2e")
	require.NoError(t, err)
	assert.Equal(t, "1.21.1", s.MCVersion)
	assert.Equal(t, "vanilla", s.ServerType)

	require.Equal(t, 1, gw.Hub().DispatchCommand("srv-e2e", protocol.CommandStop))
	require.Eventually(t, func() bool {
		s, err := gw.store.GetServer(context.Background(), "srv-e2e")
		return err == nil && s.Status == string(protocol.StatusOffline)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(0), sup.ForcedKills())
}
