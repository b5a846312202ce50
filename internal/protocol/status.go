// ABOUTME: Lifecycle status and command vocabulary shared by hub and agent
// ABOUTME: StatusReport uses pointer fields so absent values stay distinct from zero

package protocol

import "fmt"

// Status is the lifecycle state of a managed server.
type Status string

const (
	StatusOffline  Status = "offline"
	StatusStarting Status = "starting"
	StatusOnline   Status = "online"
	StatusStopping Status = "stopping"
)

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusStarting, StatusOnline, StatusStopping:
		return true
	}
	return false
}

// Command is a lifecycle instruction addressed to one managed server.
type Command string

const (
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandRestart Command = "restart"
)

// ParseCommand validates a raw command string.
func ParseCommand(s string) (Command, error) {
	c := Command(s)
	switch c {
	case CommandStart, CommandStop, CommandRestart:
		return c, nil
	}
	return "", fmt.Errorf("invalid command %q: must be start, stop, or restart", s)
}

// StatusReport is what an agent tells the hub about its managed server.
// Nil fields were not observed and must leave stored values untouched.
type StatusReport struct {
	Status        Status  `json:"status"`
	PlayersOnline *int    `json:"playersOnline,omitempty"`
	MCVersion     *string `json:"mcVersion,omitempty"`
	ServerType    *string `json:"serverType,omitempty"`
	Port          *int    `json:"port,omitempty"`
	MaxPlayers    *int    `json:"maxPlayers,omitempty"`
}

// Int returns a pointer to v, for building reports.
func Int(v int) *int { return &v }

// String returns a pointer to v, for building reports.
func String(v string) *string { return &v }
