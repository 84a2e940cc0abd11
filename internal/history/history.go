// Package history records finished centrifuge sessions in SQLite.
package history

import (
	"database/sql"
	"fmt"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/sweeney/centrifuge/internal/control"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	target_rpm REAL NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL,
	reason     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_ended_at ON sessions (ended_at);
`

// Store is a session log backed by a SQLite file.
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	insert, err := db.Prepare(`INSERT OR REPLACE INTO sessions
		(id, target_rpm, started_at, ended_at, reason) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: prepare insert: %w", err)
	}
	return &Store{db: db, insert: insert}, nil
}

// Record stores a finished session.
func (s *Store) Record(rec control.SessionRecord) error {
	_, err := s.insert.Exec(
		rec.ID,
		rec.Target,
		rec.StartedAt.UnixNano(),
		rec.EndedAt.UnixNano(),
		string(rec.Reason),
	)
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to n sessions, most recently ended first.
func (s *Store) Recent(n int) ([]control.SessionRecord, error) {
	rows, err := s.db.Query(`SELECT id, target_rpm, started_at, ended_at, reason
		FROM sessions ORDER BY ended_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []control.SessionRecord
	for rows.Next() {
		var (
			rec        control.SessionRecord
			start, end int64
			reason     string
		)
		if err := rows.Scan(&rec.ID, &rec.Target, &start, &end, &reason); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		rec.StartedAt = time.Unix(0, start).UTC()
		rec.EndedAt = time.Unix(0, end).UTC()
		rec.Reason = control.EventType(reason)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored sessions.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.insert.Close()
	return s.db.Close()
}
