package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is one execution recorded in the journal.
type Run struct {
	ID           string
	Requirements string // finalized requirements document, JSON encoded
	StartedAt    time.Time
	FinishedAt   time.Time // zero while the run is in progress
	Completed    int
	Failed       int
}

// Finished reports whether FinishRun was called for the run.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// CreateRun records the start of a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, requirements, started_at)
		VALUES (?, ?, ?)
	`, run.ID, run.Requirements, run.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stamps the run as finished with its final counts.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, completed, failed int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, completed = ?, failed = ?
		WHERE id = ?
	`, time.Now().UnixNano(), completed, failed, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun returns a single run.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, requirements, started_at, finished_at, completed, failed
		FROM runs
		WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requirements, started_at, finished_at, completed, failed
		FROM runs
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run      Run
		started  int64
		finished sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.Requirements, &started, &finished, &run.Completed, &run.Failed); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, started)
	if finished.Valid {
		run.FinishedAt = time.Unix(0, finished.Int64)
	}
	return run, nil
}
