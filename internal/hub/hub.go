// ABOUTME: Relay hub connecting supervisor agents and watching web clients
// ABOUTME: Owns agent and client rooms, persists agent reports, and fans out commands

package hub

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/dashblock/internal/metrics"
	"github.com/2389/dashblock/internal/protocol"
	"github.com/2389/dashblock/internal/store"
)

// ServerStore is the persistence the hub needs. The hub is the only writer
// of connection and status fields.
type ServerStore interface {
	GetServerByAgentKey(ctx context.Context, agentKey string) (*store.Server, error)
	SetConnected(ctx context.Context, id string, connected bool, seen time.Time) error
	UpdateStatus(ctx context.Context, id string, update store.StatusUpdate, seen time.Time) error
}

// Options configures a Hub.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now overrides the clock used for last-seen stamps.
	Now func() time.Time
}

// Hub is the relay between agents and clients. One instance is shared by
// every transport serving connections.
type Hub struct {
	store   ServerStore
	agents  *Rooms
	clients *Rooms
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	authenticated atomic.Int64
	clientCount   atomic.Int64
}

// New creates a hub backed by s.
func New(s ServerStore, opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Hub{
		store:   s,
		agents:  NewRooms(logger.With("rooms", "agent"), opts.Metrics.FrameDropped),
		clients: NewRooms(logger.With("rooms", "client"), opts.Metrics.FrameDropped),
		metrics: opts.Metrics,
		logger:  logger,
		now:     now,
	}
}

// ConnectAgent registers a new, unauthenticated agent connection.
func (h *Hub) ConnectAgent(peer Peer) *AgentSession {
	logger := h.logger.With("peer_id", peer.ID(), "channel", "agent")
	return &AgentSession{
		hub:    h,
		peer:   peer,
		base:   logger,
		logger: logger,
	}
}

// ConnectClient registers a new client connection. subject is the caller
// identity from the token, or "" when auth is disabled.
func (h *Hub) ConnectClient(peer Peer, subject string) *ClientSession {
	h.clientCount.Add(1)
	h.metrics.ClientConnected(true)
	logger := h.logger.With("peer_id", peer.ID(), "channel", "client")
	if subject != "" {
		logger = logger.With("subject", subject)
	}
	logger.Debug("client connected")
	return &ClientSession{
		hub:    h,
		peer:   peer,
		logger: logger,
	}
}

// DispatchCommand forwards cmd to every agent session for serverID and
// returns how many sessions it was queued to. Delivery is best effort:
// an empty room is not an error and nothing is buffered.
func (h *Hub) DispatchCommand(serverID string, cmd protocol.Command) int {
	frame := protocol.MustFrame(protocol.TypeCommand, protocol.CommandFrame{Command: cmd})
	n := h.agents.Broadcast(RoomKey(serverID), frame)
	h.metrics.CommandDispatched(string(cmd))

	h.logger.Info("command dispatched",
		"server_id", serverID,
		"command", cmd,
		"agents", n,
	)
	return n
}

// AuthenticatedAgents returns the number of live authenticated agent sessions.
func (h *Hub) AuthenticatedAgents() int {
	return int(h.authenticated.Load())
}

// Clients returns the number of live client sessions.
func (h *Hub) Clients() int {
	return int(h.clientCount.Load())
}

// AgentsFor returns how many agent sessions are bound to serverID.
func (h *Hub) AgentsFor(serverID string) int {
	return h.agents.Size(RoomKey(serverID))
}

// WatchersOf returns how many clients watch serverID.
func (h *Hub) WatchersOf(serverID string) int {
	return h.clients.Size(RoomKey(serverID))
}
