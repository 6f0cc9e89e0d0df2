// Package journal records session lifecycle events in a local sqlite
// database. It is an audit trail for the operator; nothing reads it on the
// hot path, and a write failure never affects the session itself.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tether-sh/tether/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	shell TEXT NOT NULL DEFAULT '',
	exit_code INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id);
`

// Entry is one recorded lifecycle event.
type Entry struct {
	SessionID string
	Kind      string
	Shell     string
	ExitCode  int
	CreatedAt time.Time
}

// Store is an append-only journal backed by sqlite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one event.
func (s *Store) Record(ev session.Event) error {
	_, err := s.db.Exec(
		"INSERT INTO session_events (session_id, kind, shell, exit_code, created_at) VALUES (?, ?, ?, ?, ?)",
		ev.SessionID, ev.Kind, ev.Shell, ev.ExitCode, ev.Time.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Recent returns the newest n events, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.Query(
		"SELECT session_id, kind, shell, exit_code, created_at FROM session_events ORDER BY id DESC LIMIT ?", n,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.SessionID, &e.Kind, &e.Shell, &e.ExitCode, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
