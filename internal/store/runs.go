package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStore keeps the history of ingestion runs.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new run store
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Start records a new running ingestion and returns it.
func (s *RunStore) Start(ctx context.Context, repoPath string) (*IngestRun, error) {
	run := &IngestRun{
		ID:        uuid.NewString(),
		RepoPath:  repoPath,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	if _, err := s.db.sqlDB.ExecContext(ctx,
		"INSERT INTO ingest_runs (id, repo_path, status, started_at) VALUES (?, ?, ?, ?)",
		run.ID, run.RepoPath, run.Status, formatTime(run.StartedAt),
	); err != nil {
		return nil, fmt.Errorf("failed to record ingest run: %w", err)
	}

	return run, nil
}

// Finish marks a run completed, or failed when runErr is non-nil.
func (s *RunStore) Finish(ctx context.Context, run *IngestRun, files, chunks int, runErr error) error {
	now := time.Now().UTC()
	run.Files = files
	run.Chunks = chunks
	run.FinishedAt = &now
	run.Status = RunStatusCompleted
	run.Error = ""
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}

	if _, err := s.db.sqlDB.ExecContext(ctx, `
		UPDATE ingest_runs SET status = ?, files = ?, chunks = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, run.Status, run.Files, run.Chunks, run.Error, formatTime(now), run.ID); err != nil {
		return fmt.Errorf("failed to update ingest run: %w", err)
	}

	return nil
}

// Latest returns the most recently started run, or nil if there is none.
func (s *RunStore) Latest(ctx context.Context) (*IngestRun, error) {
	row := s.db.sqlDB.QueryRowContext(ctx, `
		SELECT id, repo_path, status, files, chunks, error, started_at, finished_at
		FROM ingest_runs ORDER BY started_at DESC LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// List returns up to limit runs, newest first.
func (s *RunStore) List(ctx context.Context, limit int) ([]*IngestRun, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.sqlDB.QueryContext(ctx, `
		SELECT id, repo_path, status, files, chunks, error, started_at, finished_at
		FROM ingest_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []*IngestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*IngestRun, error) {
	var run IngestRun
	var startedAt string
	var finishedAt sql.NullString

	if err := row.Scan(
		&run.ID, &run.RepoPath, &run.Status, &run.Files, &run.Chunks,
		&run.Error, &startedAt, &finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan ingest run: %w", err)
	}

	var err error
	if run.StartedAt, err = parseTimeString(startedAt); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, err
	}

	return &run, nil
}
