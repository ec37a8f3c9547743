// Package store persists the history of settled jobs in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY,
	path TEXT NOT NULL,
	worker TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	settled_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_outcome ON jobs(outcome);
`

// Outcomes recorded for a settled job.
const (
	OutcomeCompleted = "completed"
	OutcomeRequeued  = "requeued"
	OutcomeFailed    = "failed"
)

// Job is one settled row in the history.
type Job struct {
	ID        int64
	Path      string
	Worker    string
	Outcome   string
	Detail    string
	SettledAt time.Time
}

// Store wraps the SQLite history database.
type Store struct {
	db *sql.DB
}

// Open opens the history database at path, creating parent directories
// and the schema as needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection. Safe to call more than once;
// operations after Close report the database as closed.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one settled job to the history.
func (s *Store) Record(job Job) error {
	settledAt := job.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		"INSERT INTO jobs (path, worker, outcome, detail, settled_at) VALUES (?, ?, ?, ?, ?)",
		job.Path, job.Worker, job.Outcome, job.Detail, settledAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: record: %w", err)
	}
	return nil
}

// Recent returns up to limit settled jobs, newest first.
func (s *Store) Recent(limit int) ([]Job, error) {
	rows, err := s.db.Query(
		"SELECT id, path, worker, outcome, detail, settled_at FROM jobs ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var ts string
		if err := rows.Scan(&j.ID, &j.Path, &j.Worker, &j.Outcome, &j.Detail, &ts); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("store: parse timestamp %q: %w", ts, err)
		}
		j.SettledAt = t
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent iteration: %w", err)
	}
	return jobs, nil
}

// Counts returns how many jobs settled with each outcome.
func (s *Store) Counts() (map[string]int, error) {
	rows, err := s.db.Query("SELECT outcome, COUNT(*) FROM jobs GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("store: counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: counts iteration: %w", err)
	}
	return counts, nil
}
