// Package history persists a record per streaming session, so the frontend
// can show past sessions and their outcomes.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SessionRecord is one streaming session's lifecycle summary.
type SessionRecord struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Platform     string     `json:"platform"`
	Resolution   string     `json:"resolution"`
	ExitReason   string     `json:"exit_reason"`
	ErrorMessage string     `json:"error_message"`
}

// Store is the sqlite-backed session history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS stream_sessions (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		platform TEXT NOT NULL,
		resolution TEXT NOT NULL,
		exit_reason TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_stream_sessions_started_at
		ON stream_sessions(started_at);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordStart inserts a new session row at confirmed start.
func (s *Store) RecordStart(id string, startedAt time.Time, platform, resolution string) error {
	_, err := s.db.Exec(
		`INSERT INTO stream_sessions (id, started_at, platform, resolution) VALUES (?, ?, ?, ?)`,
		id, startedAt.UTC(), platform, resolution,
	)
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// RecordEnd closes a session row with its outcome.
func (s *Store) RecordEnd(id string, endedAt time.Time, reason, errorMessage string) error {
	_, err := s.db.Exec(
		`UPDATE stream_sessions SET ended_at = ?, exit_reason = ?, error_message = ? WHERE id = ?`,
		endedAt.UTC(), reason, errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	return nil
}

// Recent returns the most recent sessions, newest first.
func (s *Store) Recent(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, ended_at, platform, resolution, exit_reason, error_message
		 FROM stream_sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var ended sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &ended, &rec.Platform,
			&rec.Resolution, &rec.ExitReason, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			rec.EndedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes sessions older than the retention window.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := s.db.Exec(`DELETE FROM stream_sessions WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
