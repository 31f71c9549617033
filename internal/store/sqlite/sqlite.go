package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirerelay/internal/store"
)

// Schema creates the journal table. Safe to apply repeatedly.
const Schema = `
	CREATE TABLE IF NOT EXISTS session_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL DEFAULT '',
		identity    TEXT NOT NULL,
		kind        TEXT NOT NULL,
		remote_addr TEXT NOT NULL DEFAULT '',
		detail      TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_session_events_identity ON session_events(identity, id DESC);
`

const defaultLimit = 100

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies Schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ApplySchema runs Schema against db.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record appends a lifecycle event.
func (s *SQLiteStore) Record(ctx context.Context, ev *store.SessionEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO session_events (session_id, identity, kind, remote_addr, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		ev.SessionID,
		ev.Identity,
		string(ev.Kind),
		ev.RemoteAddr,
		ev.Detail,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	ev.ID = id
	return nil
}

// Recent returns the newest events first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*store.SessionEvent, error) {
	query := `
		SELECT id, session_id, identity, kind, remote_addr, detail, created_at
		FROM session_events
		ORDER BY id DESC
		LIMIT ?
	`
	return s.list(ctx, query, clampLimit(limit))
}

// ForIdentity returns the newest events recorded for identity.
func (s *SQLiteStore) ForIdentity(ctx context.Context, identity string, limit int) ([]*store.SessionEvent, error) {
	query := `
		SELECT id, session_id, identity, kind, remote_addr, detail, created_at
		FROM session_events
		WHERE identity = ?
		ORDER BY id DESC
		LIMIT ?
	`
	return s.list(ctx, query, identity, clampLimit(limit))
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]*store.SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var events []*store.SessionEvent
	for rows.Next() {
		var ev store.SessionEvent
		var kind string
		if err := rows.Scan(
			&ev.ID,
			&ev.SessionID,
			&ev.Identity,
			&kind,
			&ev.RemoteAddr,
			&ev.Detail,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		ev.Kind = store.EventKind(kind)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session events: %w", err)
	}

	return events, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultLimit
	}
	return limit
}
