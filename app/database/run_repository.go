package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Timestamps are stored as RFC 3339 text in UTC so they sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

type SQLRunRepository struct {
	db *DB
}

var _ RunRepository = (*SQLRunRepository)(nil)

func NewRunRepository(db *DB) *SQLRunRepository {
	return &SQLRunRepository{db: db}
}

func (r *SQLRunRepository) RecordRun(run Run) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, started_at, finished_at, status, collected, rendered, output_path, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, formatTimestamp(run.StartedAt), formatTimestamp(run.FinishedAt), string(run.Status),
		run.Collected, run.Rendered, run.OutputPath, run.Error)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, source := range run.Sources {
		_, err = tx.Exec(`
			INSERT INTO run_sources (run_id, position, source_name, url, items, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, source.SourceName, source.URL, source.Items, source.Error)
		if err != nil {
			return fmt.Errorf("failed to insert run source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	return nil
}

func (r *SQLRunRepository) GetLastRun() (*Run, error) {
	runs, err := r.GetRecentRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (r *SQLRunRepository) GetRecentRuns(limit int) ([]Run, error) {
	rows, err := r.db.Query(`
		SELECT id, started_at, finished_at, status, collected, rendered, output_path, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt, finishedAt, status string
		if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &status,
			&run.Collected, &run.Rendered, &run.OutputPath, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = RunStatus(status)
		if run.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseTimestamp(finishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	for i := range runs {
		sources, err := r.getRunSources(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Sources = sources
	}

	return runs, nil
}

func (r *SQLRunRepository) GetRunCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

func (r *SQLRunRepository) getRunSources(runID string) ([]SourceResult, error) {
	rows, err := r.db.Query(`
		SELECT source_name, url, items, error
		FROM run_sources
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run sources: %w", err)
	}
	defer rows.Close()

	var sources []SourceResult
	for rows.Next() {
		var source SourceResult
		if err := rows.Scan(&source.SourceName, &source.URL, &source.Items, &source.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run source: %w", err)
		}
		sources = append(sources, source)
	}

	return sources, rows.Err()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
