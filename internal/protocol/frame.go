// ABOUTME: Wire frames exchanged between the relay hub, agents, and web clients
// ABOUTME: Every message is a {type, payload} envelope with a typed JSON payload

package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame types on the agent channel.
const (
	TypeAuthenticate  = "authenticate"
	TypeAuthenticated = "authenticated"
	TypeAuthError     = "auth_error"
	TypeStatusUpdate  = "status_update"
	TypeCommand       = "command"
)

// Frame types on the client channel.
const (
	TypeWatchServer   = "watch_server"
	TypeUnwatchServer = "unwatch_server"
	TypeServerUpdate  = "server_update"
	TypeError         = "error"
)

// Frame is the envelope for every message on both channels.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a frame of the given type.
// A nil payload produces a frame with no payload.
func NewFrame(frameType string, payload any) (Frame, error) {
	f := Frame{Type: frameType}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s payload: %w", frameType, err)
	}
	f.Payload = data
	return f, nil
}

// MustFrame is NewFrame for payloads that cannot fail to marshal.
func MustFrame(frameType string, payload any) Frame {
	f, err := NewFrame(frameType, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", f.Type, err)
	}
	return nil
}

// Authenticate is sent by an agent as its first frame.
type Authenticate struct {
	AgentKey string `json:"agentKey"`
}

// Authenticated confirms an agent session is bound to a server.
type Authenticated struct {
	ServerID string `json:"serverId"`
}

// AuthError tells an agent its authentication was rejected.
type AuthError struct {
	Message string `json:"message"`
}

// CommandFrame carries a lifecycle command to an agent.
type CommandFrame struct {
	Command Command `json:"command"`
}

// WatchServer subscribes or unsubscribes a client from a server's updates.
type WatchServer struct {
	ServerID string `json:"serverId"`
}

// ServerUpdate is the status report fanned out to watching clients.
type ServerUpdate struct {
	ServerID string `json:"serverId"`
	StatusReport
}

// ErrorMessage reports a malformed client frame.
type ErrorMessage struct {
	Message string `json:"message"`
}
