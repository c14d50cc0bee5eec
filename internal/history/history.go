// Package history keeps an append-only trail of viewer join/leave events in
// SQLite, backing the "last opened by" column in file list views. This is an
// audit trail, not presence state: live presence is in-memory only and is
// rebuilt from scratch after a restart.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/markb/filepulse/internal/log"
	"github.com/markb/filepulse/internal/realtime"

	_ "modernc.org/sqlite"
)

const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS viewer_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    event TEXT NOT NULL,
    at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_viewer_events_file ON viewer_events(file_id, at);
`

// Event is one recorded join or leave.
type Event struct {
	FileID string    `json:"file_id"`
	UserID string    `json:"user_id"`
	Name   string    `json:"name"`
	Event  string    `json:"event"` // "join" or "leave"
	At     time.Time `json:"at"`
}

// Store records viewer events in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the history database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(createEventsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create viewer_events table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordJoin appends a join event. Called from hub goroutines; failures are
// logged and swallowed so the presence path is never disturbed.
func (s *Store) RecordJoin(fileID string, viewer realtime.Viewer) {
	s.record(fileID, viewer.ID, viewer.Name, "join", viewer.JoinedAt)
}

// RecordLeave appends a leave event.
func (s *Store) RecordLeave(fileID, userID string, at time.Time) {
	s.record(fileID, userID, "", "leave", at)
}

func (s *Store) record(fileID, userID, name, event string, at time.Time) {
	_, err := s.db.Exec(
		`INSERT INTO viewer_events (file_id, user_id, name, event, at) VALUES (?, ?, ?, ?, ?)`,
		fileID, userID, name, event, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		log.Warn("history: record failed", "file_id", fileID, "event", event, "error", err.Error())
	}
}

// Recent returns the most recent events for a file, newest first.
func (s *Store) Recent(fileID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT file_id, user_id, name, event, at FROM viewer_events
		 WHERE file_id = ? ORDER BY id DESC LIMIT ?`,
		fileID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var at string
		if err := rows.Scan(&e.FileID, &e.UserID, &e.Name, &e.Event, &at); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune deletes events older than the retention window.
func (s *Store) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(`DELETE FROM viewer_events WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}
