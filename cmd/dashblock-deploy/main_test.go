package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dashblock/internal/deploy"
)

func validArgs(keyFile string) []string {
	return []string{
		"--host", "mc.example.com",
		"-u", "minecraft",
		"-i", keyFile,
		"--server-path", "/srv/minecraft",
		"--agent-key", "key-1",
		"--relay-url", "hub.example.com:50051",
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	o, err := parseFlags(validArgs("/tmp/id"))
	require.NoError(t, err)

	assert.Equal(t, deploy.DefaultSSHPort, o.port)
	assert.Equal(t, "java", o.runtime)
	assert.Equal(t, "dashblock-agent", o.agentBinary)
}

func TestParseFlagsRequiresFields(t *testing.T) {
	_, err := parseFlags([]string{"--host", "mc.example.com"})
	assert.ErrorContains(t, err, "--user is required")
}

func TestRequestReadsKeyAndPassphrase(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, []byte("PRIVATE"), 0o600))
	t.Setenv(PassphraseEnv, "hunter2")

	o, err := parseFlags(validArgs(keyFile))
	require.NoError(t, err)
	req, err := o.request()
	require.NoError(t, err)

	assert.Equal(t, []byte("PRIVATE"), req.PrivateKey)
	assert.Equal(t, []byte("hunter2"), req.Passphrase)
	assert.Equal(t, "/srv/minecraft", req.ServerPath)
	assert.Equal(t, "key-1", req.AgentKey)
}

func TestRunFailsWithoutAgentBinary(t *testing.T) {
	args := append(validArgs("/nonexistent"), "--agent-binary", filepath.Join(t.TempDir(), "missing"))
	ok, err := run(args, &bytes.Buffer{})
	assert.False(t, ok)
	assert.ErrorContains(t, err, "agent binary")
}

func TestPrintResultJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printResult(&out, deploy.Result{Success: false, Message: "java not found"}, true))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.Equal(t, "java not found", decoded["message"])
	assert.NotContains(t, decoded, "agentPath")
}
