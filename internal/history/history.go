// Package history keeps a local record of every run and attempt so quota
// spent on a borderline input is visible after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register driver

	"soragen/internal/retry"
	"soragen/internal/video"
)

// Store persists runs and attempts in a local sqlite database.
type Store struct {
	db *sql.DB
}

// Run is one recorded generation task.
type Run struct {
	ID           string
	Prompt       string
	ImageURL     string
	AspectRatio  string
	Duration     int
	Outcome      string
	VideoURL     string
	Reason       string
	Attempts     int
	DownloadPath string
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping db: %w", err)
	}

	// WAL plus a single connection avoids SQLITE_BUSY when the batch runner
	// records attempts from several tasks at once.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set busy timeout: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			aspect_ratio TEXT NOT NULL DEFAULT '',
			duration INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL DEFAULT '',
			video_url TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			download_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			run_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT '',
			video_url TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			PRIMARY KEY (run_id, number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// StartRun registers a new task before its first attempt.
func (s *Store) StartRun(ctx context.Context, id string, req video.Request) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, prompt, image_url, aspect_ratio, duration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, req.Prompt, req.ImageURL, req.AspectRatio, req.Duration, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("history: start run: %w", err)
	}
	return nil
}

// RecordAttempt persists one submit/poll cycle. It implements retry.Recorder.
func (s *Store) RecordAttempt(ctx context.Context, taskID string, att retry.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attempts (run_id, number, job_id, outcome, video_url, reason, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, att.Number, att.JobID, string(att.Outcome), att.VideoURL, att.Reason,
		att.StartedAt.UTC(), att.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("history: record attempt: %w", err)
	}
	return nil
}

// FinishRun stores the final verdict for a task.
func (s *Store) FinishRun(ctx context.Context, id string, out retry.FinalOutcome, downloadPath string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET outcome = ?, video_url = ?, reason = ?, attempts = ?, download_path = ?, finished_at = ?
		 WHERE id = ?`,
		string(out.Outcome), out.VideoURL, out.Reason, out.Attempts, downloadPath, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("history: finish run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, image_url, aspect_ratio, duration, outcome, video_url, reason, attempts, download_path, created_at, finished_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.Prompt, &r.ImageURL, &r.AspectRatio, &r.Duration,
			&r.Outcome, &r.VideoURL, &r.Reason, &r.Attempts, &r.DownloadPath,
			&r.CreatedAt, &finished,
		); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AttemptCount reports how many attempts were recorded for a run.
func (s *Store) AttemptCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("history: count attempts: %w", err)
	}
	return n, nil
}

var _ retry.Recorder = (*Store)(nil)
