// ABOUTME: Agent session state and the operations an agent frame can trigger
// ABOUTME: Authenticate binds a session to a server; ReportStatus persists then broadcasts

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/dashblock/internal/protocol"
	"github.com/2389/dashblock/internal/store"
)

// Messages sent in auth_error frames.
const (
	MsgInvalidAgentKey = "Invalid agent key"
	MsgAuthFailed      = "Authentication failed"
)

// ErrAuthRejected is returned by Authenticate when the session was refused
// and closed.
var ErrAuthRejected = errors.New("agent authentication rejected")

// AgentSession is one live agent connection. It is never persisted.
type AgentSession struct {
	hub    *Hub
	peer   Peer
	base   *slog.Logger
	logger *slog.Logger

	mu            sync.Mutex
	serverID      string
	authenticated bool

	disconnectOnce sync.Once
}

// ServerID returns the bound server, or "" before authentication.
func (s *AgentSession) ServerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverID
}

// Authenticated reports whether the session has been bound to a server.
func (s *AgentSession) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Handle dispatches one inbound agent frame. Malformed payloads are logged
// and skipped; only store failures are returned.
func (s *AgentSession) Handle(ctx context.Context, f protocol.Frame) error {
	switch f.Type {
	case protocol.TypeAuthenticate:
		var msg protocol.Authenticate
		if err := f.Decode(&msg); err != nil {
			s.logger.Warn("malformed authenticate frame", "error", err)
			s.reject(MsgInvalidAgentKey, "malformed")
			return nil
		}
		err := s.Authenticate(ctx, msg.AgentKey)
		if errors.Is(err, ErrAuthRejected) {
			return nil
		}
		return err

	case protocol.TypeStatusUpdate:
		var report protocol.StatusReport
		if err := f.Decode(&report); err != nil {
			s.logger.Warn("malformed status_update frame", "error", err)
			return nil
		}
		return s.ReportStatus(ctx, report)

	default:
		s.logger.Debug("ignoring agent frame", "type", f.Type)
		return nil
	}
}

// Authenticate resolves agentKey to a server record and binds the session.
// On rejection an auth_error frame is queued, the peer is closed, and
// ErrAuthRejected is returned. Re-authenticating rebinds the session.
func (s *AgentSession) Authenticate(ctx context.Context, agentKey string) error {
	server, err := s.hub.store.GetServerByAgentKey(ctx, agentKey)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("agent authentication failed: unknown key")
		s.reject(MsgInvalidAgentKey, "invalid_key")
		return ErrAuthRejected
	}
	if err != nil {
		s.logger.Error("agent authentication failed", "error", err)
		s.reject(MsgAuthFailed, "store_error")
		return ErrAuthRejected
	}

	if err := s.hub.store.SetConnected(ctx, server.ID, true, s.hub.now()); err != nil {
		s.logger.Error("marking server connected", "server_id", server.ID, "error", err)
		s.reject(MsgAuthFailed, "store_error")
		return ErrAuthRejected
	}

	s.mu.Lock()
	previous := s.serverID
	wasAuthenticated := s.authenticated
	s.serverID = server.ID
	s.authenticated = true
	s.mu.Unlock()

	if wasAuthenticated && previous != server.ID {
		s.hub.agents.Leave(RoomKey(previous), s.peer.ID())
	}
	s.hub.agents.Join(RoomKey(server.ID), s.peer)
	if !wasAuthenticated {
		s.hub.authenticated.Add(1)
		s.hub.metrics.AgentConnected(true)
	}

	s.logger = s.base.With("server_id", server.ID)
	s.logger.Info("=== AGENT CONNECTED ===",
		"server_name", server.Name,
		"agents_for_server", s.hub.agents.Size(RoomKey(server.ID)),
	)

	reply := protocol.MustFrame(protocol.TypeAuthenticated, protocol.Authenticated{ServerID: server.ID})
	if err := s.peer.Send(reply); err != nil {
		return fmt.Errorf("sending authenticated: %w", err)
	}
	return nil
}

func (s *AgentSession) reject(message, reason string) {
	s.hub.metrics.AuthFailed(reason)
	_ = s.peer.Send(protocol.MustFrame(protocol.TypeAuthError, protocol.AuthError{Message: message}))
	s.peer.Close()
}

// ReportStatus persists a status report and broadcasts it to watching
// clients. Reports from unauthenticated sessions or with an unknown status
// are dropped. If the server record has been deleted the agent is closed.
func (s *AgentSession) ReportStatus(ctx context.Context, report protocol.StatusReport) error {
	s.mu.Lock()
	serverID, ok := s.serverID, s.authenticated
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("ignoring status_update from unauthenticated agent")
		return nil
	}
	if !report.Status.Valid() {
		s.logger.Warn("ignoring status_update with unknown status", "status", report.Status)
		return nil
	}

	update := store.StatusUpdate{
		Status:        string(report.Status),
		PlayersOnline: report.PlayersOnline,
		MCVersion:     report.MCVersion,
		ServerType:    report.ServerType,
		Port:          report.Port,
		MaxPlayers:    report.MaxPlayers,
	}
	err := s.hub.store.UpdateStatus(ctx, serverID, update, s.hub.now())
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("server record no longer exists, disconnecting agent")
		s.peer.Close()
		return nil
	}
	if err != nil {
		return fmt.Errorf("persisting status for %s: %w", serverID, err)
	}
	s.hub.metrics.StatusUpdated()

	frame := protocol.MustFrame(protocol.TypeServerUpdate, protocol.ServerUpdate{
		ServerID:     serverID,
		StatusReport: report,
	})
	n := s.hub.clients.Broadcast(RoomKey(serverID), frame)
	s.logger.Debug("status broadcast", "status", report.Status, "clients", n)
	return nil
}

// Disconnect releases the session. For an authenticated session the server
// is marked disconnected. Safe to call more than once.
func (s *AgentSession) Disconnect(ctx context.Context) {
	s.disconnectOnce.Do(func() {
		s.hub.agents.LeaveAll(s.peer.ID())

		s.mu.Lock()
		serverID, ok := s.serverID, s.authenticated
		s.authenticated = false
		s.mu.Unlock()

		if !ok {
			s.logger.Debug("unauthenticated agent disconnected")
			return
		}

		s.hub.authenticated.Add(-1)
		s.hub.metrics.AgentConnected(false)
		s.logger.Info("=== AGENT DISCONNECTED ===")

		err := s.hub.store.SetConnected(ctx, serverID, false, s.hub.now())
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("marking server disconnected", "error", err)
		}
	})
}
