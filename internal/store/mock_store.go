// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject store failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	servers map[string]*Server // keyed by server ID

	// Err, when set, is returned by every operation.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		servers: make(map[string]*Server),
	}
}

// CreateServer stores a new server.
func (m *MockStore) CreateServer(ctx context.Context, server *Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	for _, existing := range m.servers {
		if existing.AgentKey == server.AgentKey {
			return ErrDuplicateAgentKey
		}
	}

	// Make a copy to avoid external modification
	s := *server
	if s.Status == "" {
		s.Status = "offline"
	}
	m.servers[s.ID] = &s
	return nil
}

// GetServer retrieves a server by ID.
func (m *MockStore) GetServer(ctx context.Context, id string) (*Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	s, ok := m.servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// GetServerByAgentKey retrieves the server bound to agentKey.
func (m *MockStore) GetServerByAgentKey(ctx context.Context, agentKey string) (*Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	for _, s := range m.servers {
		if s.AgentKey == agentKey {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListServers returns all servers sorted by name.
func (m *MockStore) ListServers(ctx context.Context) ([]*Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	servers := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		cp := *s
		servers = append(servers, &cp)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// SetConnected records a connection state change.
func (m *MockStore) SetConnected(ctx context.Context, id string, connected bool, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	s, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	s.IsConnected = connected
	s.LastSeen = &seen
	s.UpdatedAt = seen
	return nil
}

// UpdateStatus applies a partial status update.
func (m *MockStore) UpdateStatus(ctx context.Context, id string, update StatusUpdate, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	s, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = update.Status
	if update.PlayersOnline != nil {
		s.PlayersOnline = *update.PlayersOnline
	}
	if update.MCVersion != nil {
		s.MCVersion = *update.MCVersion
	}
	if update.ServerType != nil {
		s.ServerType = *update.ServerType
	}
	if update.Port != nil {
		s.Port = *update.Port
	}
	if update.MaxPlayers != nil {
		s.MaxPlayers = *update.MaxPlayers
	}
	s.LastSeen = &seen
	s.UpdatedAt = seen
	return nil
}

// DeleteServer removes a server.
func (m *MockStore) DeleteServer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.servers[id]; !ok {
		return ErrNotFound
	}
	delete(m.servers, id)
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
