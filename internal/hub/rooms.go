// ABOUTME: In-memory rooms mapping a room key to the peers subscribed to it
// ABOUTME: Broadcast is non-blocking; a peer that cannot accept a frame misses it

package hub

import (
	"log/slog"
	"sync"

	"github.com/2389/dashblock/internal/protocol"
)

// Peer is one live connection the hub can push frames to.
// Send must not block; it returns an error when the frame cannot be queued.
type Peer interface {
	ID() string
	Send(protocol.Frame) error
	Close()
}

// RoomKey is the room a server's agents and watching clients are grouped under.
func RoomKey(serverID string) string {
	return "server:" + serverID
}

// Rooms is a set of named rooms. Agent rooms and client rooms are kept in
// separate Rooms values so the namespaces never mix.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]Peer     // room -> peerID -> peer
	joined  map[string]map[string]struct{} // peerID -> rooms
	logger  *slog.Logger
	onDrop  func()
}

// NewRooms creates an empty set of rooms. onDrop, if non-nil, is called for
// every frame a member could not accept.
func NewRooms(logger *slog.Logger, onDrop func()) *Rooms {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rooms{
		members: make(map[string]map[string]Peer),
		joined:  make(map[string]map[string]struct{}),
		logger:  logger,
		onDrop:  onDrop,
	}
}

// Join adds peer to room. Joining twice is a no-op.
func (r *Rooms) Join(room string, peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[room]; !ok {
		r.members[room] = make(map[string]Peer)
	}
	r.members[room][peer.ID()] = peer

	if _, ok := r.joined[peer.ID()]; !ok {
		r.joined[peer.ID()] = make(map[string]struct{})
	}
	r.joined[peer.ID()][room] = struct{}{}

	r.logger.Debug("peer joined room", "room", room, "peer_id", peer.ID())
}

// Leave removes a peer from one room.
func (r *Rooms) Leave(room, peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, peerID)
}

func (r *Rooms) leaveLocked(room, peerID string) {
	if subs, ok := r.members[room]; ok {
		delete(subs, peerID)
		if len(subs) == 0 {
			delete(r.members, room)
		}
	}
	if rooms, ok := r.joined[peerID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, peerID)
		}
	}
}

// LeaveAll removes a peer from every room it joined and returns those rooms.
func (r *Rooms) LeaveAll(peerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for room := range r.joined[peerID] {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(room, peerID)
	}
	return left
}

// Broadcast sends f to every member of room and returns how many accepted it.
// An empty or unknown room is not an error.
func (r *Rooms) Broadcast(room string, f protocol.Frame) int {
	r.mu.RLock()
	subs := r.members[room]
	// Copy targets under read lock to avoid holding lock during sends
	targets := make([]Peer, 0, len(subs))
	for _, p := range subs {
		targets = append(targets, p)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, p := range targets {
		if err := p.Send(f); err != nil {
			r.logger.Debug("dropped frame for peer",
				"room", room,
				"peer_id", p.ID(),
				"type", f.Type,
				"error", err)
			if r.onDrop != nil {
				r.onDrop()
			}
			continue
		}
		delivered++
	}
	return delivered
}

// Size returns the number of peers in room.
func (r *Rooms) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[room])
}

// RoomsOf returns the rooms a peer is currently in.
func (r *Rooms) RoomsOf(peerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.joined[peerID]))
	for room := range r.joined[peerID] {
		rooms = append(rooms, room)
	}
	return rooms
}
