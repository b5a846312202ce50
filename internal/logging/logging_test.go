// ABOUTME: Tests for logger construction and the colorized handler
// ABOUTME: Color output is disabled so assertions can match plain text

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestColorHandler_WritesAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "text").With("component", "hub")

	logger.Info("agent authenticated", "server_id", "srv-1")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "INF agent authenticated")
	assert.Contains(t, out, "component=hub")
	assert.Contains(t, out, "server_id=srv-1")
	assert.NotContains(t, out, "hidden")
}

func TestColorHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "text").WithGroup("deploy")

	logger.Warn("step failed", "step", "install")
	assert.Contains(t, buf.String(), "WRN step failed deploy.step=install")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Info("hello", "n", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.EqualValues(t, 3, rec["n"])
}
