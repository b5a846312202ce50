// ABOUTME: Contract tests for the agent and client wire surface to detect breaking changes.
// ABOUTME: Pins the gRPC service descriptor, frame type names and JSON field names.

package contract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dashblock/internal/protocol"
)

func TestRelayServiceSurface(t *testing.T) {
	desc := protocol.ServiceDesc

	assert.Equal(t, "dashblock.relay.v1.AgentRelay", desc.ServiceName)
	assert.Empty(t, desc.Methods, "relay has no unary methods")
	require.Len(t, desc.Streams, 1)

	stream := desc.Streams[0]
	assert.Equal(t, "Connect", stream.StreamName)
	assert.True(t, stream.ClientStreams, "Connect must be bidirectional")
	assert.True(t, stream.ServerStreams, "Connect must be bidirectional")
	assert.Equal(t, "/dashblock.relay.v1.AgentRelay/Connect", protocol.ConnectMethod)
}

// Deployed agents and dashboards match on these strings.
func TestFrameTypeNames(t *testing.T) {
	expected := map[string]string{
		"authenticate":   protocol.TypeAuthenticate,
		"authenticated":  protocol.TypeAuthenticated,
		"auth_error":     protocol.TypeAuthError,
		"status_update":  protocol.TypeStatusUpdate,
		"command":        protocol.TypeCommand,
		"watch_server":   protocol.TypeWatchServer,
		"unwatch_server": protocol.TypeUnwatchServer,
		"server_update":  protocol.TypeServerUpdate,
		"error":          protocol.TypeError,
	}
	for wire, constant := range expected {
		assert.Equal(t, wire, constant)
	}
}

func fieldNames(t *testing.T, v any) []string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	return names
}

func TestPayloadFieldNames(t *testing.T) {
	full := protocol.StatusReport{
		Status:        protocol.StatusOnline,
		PlayersOnline: protocol.Int(1),
		MCVersion:     protocol.String("1.21.1"),
		ServerType:    protocol.String("paper"),
		Port:          protocol.Int(25565),
		MaxPlayers:    protocol.Int(20),
	}

	tests := []struct {
		name   string
		value  any
		fields []string
	}{
		{"authenticate", protocol.Authenticate{AgentKey: "k"}, []string{"agentKey"}},
		{"authenticated", protocol.Authenticated{ServerID: "s"}, []string{"serverId"}},
		{"auth_error", protocol.AuthError{Message: "m"}, []string{"message"}},
		{"command", protocol.CommandFrame{Command: protocol.CommandStart}, []string{"command"}},
		{"watch_server", protocol.WatchServer{ServerID: "s"}, []string{"serverId"}},
		{"status_update", full, []string{"status", "playersOnline", "mcVersion", "serverType", "port", "maxPlayers"}},
		{"server_update", protocol.ServerUpdate{ServerID: "s", StatusReport: full},
			[]string{"serverId", "status", "playersOnline", "mcVersion", "serverType", "port", "maxPlayers"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.fields, fieldNames(t, tt.value))
		})
	}
}

func TestLifecycleVocabulary(t *testing.T) {
	for _, s := range []string{"offline", "starting", "online", "stopping"} {
		assert.True(t, protocol.Status(s).Valid(), s)
	}
	for _, c := range []string{"start", "stop", "restart"} {
		_, err := protocol.ParseCommand(c)
		assert.NoError(t, err, c)
	}
}
