package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
)

const jobRunColumns = `
	id, job_name, status, started_at, completed_at, duration_seconds,
	cities_processed, cities_failed, records_inserted, records_updated,
	records_dropped, error_message`

// RunFilter narrows ListRuns
type RunFilter struct {
	JobName  string
	Status   string
	PageSize int
	Cursor   *RunCursor
}

// RunCursor is the keyset position of the last run on a page
type RunCursor struct {
	StartedAt time.Time
	RunID     string
}

// CreateRun inserts a run in the running state
func (s *Store) CreateRun(ctx context.Context, run *domain.JobRun) error {
	query := `
		INSERT INTO job_runs (
			id, job_name, status, started_at,
			cities_processed, cities_failed, records_inserted, records_updated, records_dropped
		) VALUES (
			$1, $2, $3, $4,
			0, 0, 0, 0, 0
		)
	`

	_, err := s.db.ExecContext(ctx, query, run.ID, run.JobName, run.Status, run.StartedAt.UTC())
	if err != nil {
		return domain.NewStoreError("create job run", err)
	}

	s.logger.Debug("Job run created",
		slog.String("run_id", run.ID),
		slog.String("job_name", run.JobName),
	)

	return nil
}

// FinishRun writes the terminal state of a run. Only a running row is updated,
// so a run is finalized at most once.
func (s *Store) FinishRun(ctx context.Context, run *domain.JobRun) error {
	query := `
		UPDATE job_runs
		SET status = $2,
			completed_at = $3,
			duration_seconds = $4,
			cities_processed = $5,
			cities_failed = $6,
			records_inserted = $7,
			records_updated = $8,
			records_dropped = $9,
			error_message = $10
		WHERE id = $1 AND status = $11
	`

	result, err := s.db.ExecContext(ctx, query,
		run.ID, run.Status, run.CompletedAt, run.DurationSeconds,
		run.CitiesProcessed, run.CitiesFailed, run.RecordsInserted, run.RecordsUpdated,
		run.RecordsDropped, run.ErrorMessage, domain.JobStatusRunning,
	)
	if err != nil {
		return domain.NewStoreError("finish job run", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.NewStoreError("finish job run", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("job run %s is not running: %w", run.ID, domain.ErrRunNotFound)
	}

	return nil
}

// GetRun retrieves a run by id
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.JobRun, error) {
	query := `SELECT ` + jobRunColumns + ` FROM job_runs WHERE id = $1`

	var run domain.JobRun
	if err := s.db.GetContext(ctx, &run, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, domain.NewStoreError("get job run", err)
	}
	return &run, nil
}

// ListRuns returns up to PageSize+1 runs, newest first. The extra row tells
// the caller whether another page exists.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]domain.JobRun, error) {
	query := `SELECT ` + jobRunColumns + ` FROM job_runs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.JobName != "" {
		query += fmt.Sprintf(" AND job_name = $%d", argIdx)
		args = append(args, filter.JobName)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (started_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.StartedAt.UTC(), filter.Cursor.RunID)
		argIdx += 2
	}

	query += " ORDER BY started_at DESC, id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var runs []domain.JobRun
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, domain.NewStoreError("list job runs", err)
	}

	return runs, nil
}
