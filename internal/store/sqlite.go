// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides managed server persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS servers (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			agent_key      TEXT NOT NULL,
			is_connected   INTEGER NOT NULL DEFAULT 0,
			status         TEXT NOT NULL DEFAULT 'offline',
			server_type    TEXT NOT NULL DEFAULT '',
			mc_version     TEXT NOT NULL DEFAULT '',
			port           INTEGER NOT NULL DEFAULT 25565,
			players_online INTEGER NOT NULL DEFAULT 0,
			max_players    INTEGER NOT NULL DEFAULT 20,
			last_seen      TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,

			CHECK (status IN ('offline', 'starting', 'online', 'stopping'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_servers_agent_key ON servers(agent_key);
	`

	_, err := s.db.Exec(schema)
	return err
}

const serverColumns = `id, name, agent_key, is_connected, status, server_type, mc_version,
	port, players_online, max_players, last_seen, created_at, updated_at`

// CreateServer stores a new server record. ID, timestamps and status are
// filled in when empty.
func (s *SQLiteStore) CreateServer(ctx context.Context, server *Server) error {
	now := time.Now().UTC()
	if server.CreatedAt.IsZero() {
		server.CreatedAt = now
	}
	if server.UpdatedAt.IsZero() {
		server.UpdatedAt = server.CreatedAt
	}
	if server.Status == "" {
		server.Status = "offline"
	}

	query := `
		INSERT INTO servers (` + serverColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		server.ID,
		server.Name,
		server.AgentKey,
		boolToInt(server.IsConnected),
		server.Status,
		server.ServerType,
		server.MCVersion,
		server.Port,
		server.PlayersOnline,
		server.MaxPlayers,
		formatOptionalTime(server.LastSeen),
		server.CreatedAt.Format(time.RFC3339),
		server.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: servers.agent_key") {
			return ErrDuplicateAgentKey
		}
		return fmt.Errorf("inserting server: %w", err)
	}

	return nil
}

// GetServer retrieves a server by ID
func (s *SQLiteStore) GetServer(ctx context.Context, id string) (*Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE id = ?`
	return scanServer(s.db.QueryRowContext(ctx, query, id))
}

// GetServerByAgentKey retrieves the server bound to an agent key.
// This uses the idx_servers_agent_key index.
func (s *SQLiteStore) GetServerByAgentKey(ctx context.Context, agentKey string) (*Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE agent_key = ?`
	return scanServer(s.db.QueryRowContext(ctx, query, agentKey))
}

// ListServers returns all servers ordered by name
func (s *SQLiteStore) ListServers(ctx context.Context) ([]*Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating servers: %w", err)
	}

	return servers, nil
}

// SetConnected records an agent connecting or disconnecting.
func (s *SQLiteStore) SetConnected(ctx context.Context, id string, connected bool, seen time.Time) error {
	query := `
		UPDATE servers
		SET is_connected = ?, last_seen = ?, updated_at = ?
		WHERE id = ?
	`

	ts := seen.UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, query, boolToInt(connected), ts, ts, id)
	if err != nil {
		return fmt.Errorf("updating connection state: %w", err)
	}

	return requireOneRow(result)
}

// UpdateStatus applies a partial status update. Nil fields keep the stored value.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, update StatusUpdate, seen time.Time) error {
	query := `
		UPDATE servers SET
			status = ?,
			players_online = COALESCE(?, players_online),
			mc_version = COALESCE(?, mc_version),
			server_type = COALESCE(?, server_type),
			port = COALESCE(?, port),
			max_players = COALESCE(?, max_players),
			last_seen = ?,
			updated_at = ?
		WHERE id = ?
	`

	ts := seen.UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, query,
		update.Status,
		nullableInt(update.PlayersOnline),
		nullableString(update.MCVersion),
		nullableString(update.ServerType),
		nullableInt(update.Port),
		nullableInt(update.MaxPlayers),
		ts,
		ts,
		id,
	)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}

	return requireOneRow(result)
}

// DeleteServer removes a server record
func (s *SQLiteStore) DeleteServer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}

	return requireOneRow(result)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*Server, error) {
	var server Server
	var connected int
	var lastSeen sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&server.ID,
		&server.Name,
		&server.AgentKey,
		&connected,
		&server.Status,
		&server.ServerType,
		&server.MCVersion,
		&server.Port,
		&server.PlayersOnline,
		&server.MaxPlayers,
		&lastSeen,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning server: %w", err)
	}

	server.IsConnected = connected != 0

	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		server.LastSeen = &t
	}

	server.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	server.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &server, nil
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
