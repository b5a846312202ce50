// ABOUTME: Store interface and data types for dashblock persistence
// ABOUTME: Defines the managed server record and the operations the hub and CLI need

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateAgentKey is returned when an agent key is already bound to a server
var ErrDuplicateAgentKey = errors.New("agent key already in use")

// Server is a managed game server known to the hub.
// Connection and status fields are written only by the relay hub.
type Server struct {
	ID            string
	Name          string
	AgentKey      string
	IsConnected   bool
	Status        string // offline, starting, online, stopping
	ServerType    string
	MCVersion     string
	Port          int
	PlayersOnline int
	MaxPlayers    int
	LastSeen      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StatusUpdate is a partial update of a server's observed status.
// Nil fields leave the stored value unchanged.
type StatusUpdate struct {
	Status        string
	PlayersOnline *int
	MCVersion     *string
	ServerType    *string
	Port          *int
	MaxPlayers    *int
}

// Store defines the persistence operations for managed servers
type Store interface {
	CreateServer(ctx context.Context, server *Server) error
	GetServer(ctx context.Context, id string) (*Server, error)
	GetServerByAgentKey(ctx context.Context, agentKey string) (*Server, error)
	ListServers(ctx context.Context) ([]*Server, error)

	// SetConnected records an agent connecting or disconnecting and stamps last_seen.
	SetConnected(ctx context.Context, id string, connected bool, seen time.Time) error

	// UpdateStatus applies a partial status update and stamps last_seen.
	UpdateStatus(ctx context.Context, id string, update StatusUpdate, seen time.Time) error

	DeleteServer(ctx context.Context, id string) error

	Close() error
}
