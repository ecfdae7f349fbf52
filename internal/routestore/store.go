// Package routestore persists the Discord Thread Route table (spec.md §3)
// in a local SQLite database opened in WAL mode, matching the single-writer
// embedded-storage pattern the teacher uses for its managed-mode Postgres
// stores (internal/store/pg) but backed by modernc.org/sqlite since this
// state is single-owner and local, not a managed multi-tenant cluster.
package routestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Provider identifies which backend a routed session belongs to.
type Provider string

const (
	ProviderCodex          Provider = "codex"
	ProviderCodexAppServer Provider = "codex-app-server"
	ProviderClaude         Provider = "claude"
)

// Route is one persisted thread↔session binding.
type Route struct {
	ThreadID         string
	ParentChannelID  string
	MappingKey       string
	Provider         Provider
	ProviderSessionID string
	OwnerUserID      string
	Cwd              string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	AutoDiscovered   bool
}

// Store wraps a single shared *sql.DB connection (SQLite WAL mode tolerates
// one writer; concurrent readers are fine) holding discord_thread_routes.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open routestore: %w", err)
	}
	// WAL mode plus a single shared connection is the pattern §5 calls for:
	// "single shared connection with WAL mode".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate routestore: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS discord_thread_routes (
	thread_id          TEXT PRIMARY KEY,
	parent_channel_id  TEXT NOT NULL,
	mapping_key        TEXT NOT NULL,
	provider           TEXT NOT NULL,
	provider_session_id TEXT NOT NULL DEFAULT '',
	owner_user_id      TEXT NOT NULL DEFAULT '',
	cwd                TEXT NOT NULL,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL,
	auto_discovered    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_routes_mapping_key ON discord_thread_routes(mapping_key);
CREATE INDEX IF NOT EXISTS idx_routes_cwd ON discord_thread_routes(cwd);
CREATE INDEX IF NOT EXISTS idx_routes_session ON discord_thread_routes(provider, provider_session_id);
`

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts or replaces a route keyed by thread_id.
func (s *Store) Upsert(ctx context.Context, r Route) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discord_thread_routes
			(thread_id, parent_channel_id, mapping_key, provider, provider_session_id, owner_user_id, cwd, created_at, updated_at, auto_discovered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			parent_channel_id=excluded.parent_channel_id,
			mapping_key=excluded.mapping_key,
			provider=excluded.provider,
			provider_session_id=excluded.provider_session_id,
			owner_user_id=excluded.owner_user_id,
			cwd=excluded.cwd,
			updated_at=excluded.updated_at,
			auto_discovered=excluded.auto_discovered
	`,
		r.ThreadID, r.ParentChannelID, r.MappingKey, string(r.Provider), r.ProviderSessionID,
		r.OwnerUserID, r.Cwd, r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(), boolToInt(r.AutoDiscovered),
	)
	return err
}

// GetByThreadID returns the route bound to threadID, if any.
func (s *Store) GetByThreadID(ctx context.Context, threadID string) (*Route, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT thread_id, parent_channel_id, mapping_key, provider, provider_session_id, owner_user_id, cwd, created_at, updated_at, auto_discovered FROM discord_thread_routes WHERE thread_id = ?`, threadID)
	r, err := scanRoute(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// GetBySession returns the route for a (provider, providerSessionID) pair.
func (s *Store) GetBySession(ctx context.Context, provider Provider, sessionID string) (*Route, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT thread_id, parent_channel_id, mapping_key, provider, provider_session_id, owner_user_id, cwd, created_at, updated_at, auto_discovered FROM discord_thread_routes WHERE provider = ? AND provider_session_id = ? LIMIT 1`, string(provider), sessionID)
	r, err := scanRoute(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// FindUnclaimedByCwd finds a route with an empty provider_session_id whose
// cwd matches — the chat-initiated-session race window described in
// spec.md §3/§9. Returns the newest (highest updated_at) match.
func (s *Store) FindUnclaimedByCwd(ctx context.Context, provider Provider, cwd string) (*Route, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, parent_channel_id, mapping_key, provider, provider_session_id, owner_user_id, cwd, created_at, updated_at, auto_discovered
		FROM discord_thread_routes
		WHERE provider = ? AND cwd = ? AND provider_session_id = ''
		ORDER BY updated_at DESC LIMIT 1
	`, string(provider), cwd)
	r, err := scanRoute(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// ClaimSessionID writes sessionID into an existing route that was created
// before the backend announced its session id (the cwd-claim fix required
// by spec.md §4.I(3)/§9 — must not regress to pre-fix duplicate-thread
// behavior). The UPDATE is conditional: a route whose provider_session_id
// is already set is left unchanged.
func (s *Store) ClaimSessionID(ctx context.Context, threadID, sessionID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE discord_thread_routes SET provider_session_id = ?, updated_at = ? WHERE thread_id = ? AND provider_session_id = ''`, sessionID, now.UnixMilli(), threadID)
	return err
}

// List returns all routes.
func (s *Store) List(ctx context.Context) ([]Route, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id, parent_channel_id, mapping_key, provider, provider_session_id, owner_user_id, cwd, created_at, updated_at, auto_discovered FROM discord_thread_routes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoute(row scanner) (*Route, error) {
	var r Route
	var provider string
	var createdMs, updatedMs int64
	var autoDiscovered int
	if err := row.Scan(&r.ThreadID, &r.ParentChannelID, &r.MappingKey, &provider, &r.ProviderSessionID, &r.OwnerUserID, &r.Cwd, &createdMs, &updatedMs, &autoDiscovered); err != nil {
		return nil, err
	}
	r.Provider = Provider(provider)
	r.CreatedAt = time.UnixMilli(createdMs)
	r.UpdatedAt = time.UnixMilli(updatedMs)
	r.AutoDiscovered = autoDiscovered != 0
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
