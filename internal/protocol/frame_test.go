// ABOUTME: Tests for frame encoding and the command/status vocabulary
// ABOUTME: Checks that optional report fields are omitted rather than zeroed

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerUpdateFlattensReport(t *testing.T) {
	update := ServerUpdate{
		ServerID: "srv-1",
		StatusReport: StatusReport{
			Status:     StatusOnline,
			Port:       Int(25565),
			MaxPlayers: Int(20),
		},
	}

	data, err := json.Marshal(update)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, "srv-1", got["serverId"])
	assert.Equal(t, "online", got["status"])
	assert.EqualValues(t, 25565, got["port"])
	assert.EqualValues(t, 20, got["maxPlayers"])
	assert.NotContains(t, got, "playersOnline")
	assert.NotContains(t, got, "mcVersion")
}

func TestStatusReportKeepsZeroDistinctFromAbsent(t *testing.T) {
	var report StatusReport
	require.NoError(t, json.Unmarshal([]byte(`{"status":"online","playersOnline":0}`), &report))

	require.NotNil(t, report.PlayersOnline)
	assert.Equal(t, 0, *report.PlayersOnline)
	assert.Nil(t, report.Port)
}

func TestFrameDecode(t *testing.T) {
	f := MustFrame(TypeAuthenticate, Authenticate{AgentKey: "k-123"})

	var auth Authenticate
	require.NoError(t, f.Decode(&auth))
	assert.Equal(t, "k-123", auth.AgentKey)

	empty := Frame{Type: TypeAuthenticate}
	assert.Error(t, empty.Decode(&auth))
}

func TestParseCommand(t *testing.T) {
	for _, raw := range []string{"start", "stop", "restart"} {
		cmd, err := ParseCommand(raw)
		require.NoError(t, err)
		assert.Equal(t, Command(raw), cmd)
	}

	_, err := ParseCommand("reboot")
	assert.Error(t, err)
	_, err = ParseCommand("")
	assert.Error(t, err)
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusStarting.Valid())
	assert.False(t, Status("crashed").Valid())
	assert.False(t, Status("").Valid())
}

func TestCodecRoundTripsFrame(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, "json", c.Name())

	in := MustFrame(TypeCommand, CommandFrame{Command: CommandRestart})
	data, err := c.Marshal(&in)
	require.NoError(t, err)

	var out Frame
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, TypeCommand, out.Type)

	var cmd CommandFrame
	require.NoError(t, out.Decode(&cmd))
	assert.Equal(t, CommandRestart, cmd.Command)
}
