// Package ingest runs poll and backfill jobs against the configured cities.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/cuongbtq/weather-pipeline/internal/metrics"
	"github.com/cuongbtq/weather-pipeline/internal/normalize"
	"github.com/cuongbtq/weather-pipeline/internal/source"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the runner writes through
type Store interface {
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, obs domain.Observation) (domain.UpsertResult, error)
	CreateRun(ctx context.Context, run *domain.JobRun) error
	FinishRun(ctx context.Context, run *domain.JobRun) error
}

// LiveSource fetches current observations
type LiveSource interface {
	FetchCurrent(ctx context.Context, e domain.Entity) (source.LiveRecord, error)
}

// ArchiveSource fetches historical observations
type ArchiveSource interface {
	FetchRange(ctx context.Context, e domain.Entity, start, end time.Time) ([]source.ArchiveRecord, error)
}

// Config holds runner configuration
type Config struct {
	Store         Store
	Live          LiveSource
	Archive       ArchiveSource
	Entities      []domain.Entity
	Concurrency   int
	EntityTimeout time.Duration
	Logger        *slog.Logger
}

// Runner executes ingestion jobs and records a JobRun for each execution
type Runner struct {
	store         Store
	live          LiveSource
	archive       ArchiveSource
	entities      []domain.Entity
	concurrency   int
	entityTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewRunner creates a new Runner
func NewRunner(cfg *Config) *Runner {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Runner{
		store:         cfg.Store,
		live:          cfg.Live,
		archive:       cfg.Archive,
		entities:      slices.Clone(cfg.Entities),
		concurrency:   concurrency,
		entityTimeout: cfg.EntityTimeout,
		logger:        cfg.Logger,
		now:           time.Now,
		inFlight:      make(map[string]struct{}),
	}
}

// entityTask fetches and normalizes the records of one entity. It returns the
// observations to write and the number of records rejected by normalization.
type entityTask func(ctx context.Context, e domain.Entity) ([]domain.Observation, int, error)

// RunPoll fetches the current observation of every entity from the live source
func (r *Runner) RunPoll(ctx context.Context) (*domain.JobRun, error) {
	return r.run(ctx, domain.JobPollCurrent, func(ctx context.Context, e domain.Entity) ([]domain.Observation, int, error) {
		rec, err := r.live.FetchCurrent(ctx, e)
		if err != nil {
			return nil, 0, err
		}

		obs, err := normalize.Normalize(rec, domain.SourceLive)
		if err != nil {
			r.logger.Warn("Dropped live record",
				slog.String("entity", e.Name),
				slog.Any("error", err),
			)
			return nil, 1, nil
		}
		return []domain.Observation{obs}, 0, nil
	})
}

// RunBackfill loads the window (now-days, now] from the archive source, with
// now truncated to the hour. Records outside the window are discarded.
func (r *Runner) RunBackfill(ctx context.Context, days int) (*domain.JobRun, error) {
	if days <= 0 {
		return nil, fmt.Errorf("backfill days must be positive, got %d", days)
	}

	end := r.now().UTC().Truncate(time.Hour)
	start := end.AddDate(0, 0, -days)

	r.logger.Info("Backfill window",
		slog.Int("days", days),
		slog.Time("start", start),
		slog.Time("end", end),
	)

	return r.run(ctx, domain.JobBackfillHistory, func(ctx context.Context, e domain.Entity) ([]domain.Observation, int, error) {
		recs, err := r.archive.FetchRange(ctx, e, start, end)
		if err != nil {
			return nil, 0, err
		}

		var (
			out     []domain.Observation
			dropped int
		)
		for _, rec := range recs {
			obs, err := normalize.Normalize(rec, domain.SourceBackfill)
			if err != nil {
				dropped++
				r.logger.Debug("Dropped archive record",
					slog.String("entity", e.Name),
					slog.Any("error", err),
				)
				continue
			}
			if !obs.Timestamp.After(start) || obs.Timestamp.After(end) {
				continue
			}
			out = append(out, obs)
		}

		slices.SortFunc(out, func(a, b domain.Observation) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		return out, dropped, nil
	})
}

// Running reports whether a job with this name is in flight
func (r *Runner) Running(jobName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inFlight[jobName]
	return ok
}

func (r *Runner) acquire(jobName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inFlight[jobName]; ok {
		return false
	}
	r.inFlight[jobName] = struct{}{}
	return true
}

func (r *Runner) release(jobName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, jobName)
}

func (r *Runner) run(ctx context.Context, jobName string, task entityTask) (*domain.JobRun, error) {
	if !r.acquire(jobName) {
		metrics.IncJobSkipped(jobName)
		r.logger.Warn("Job already running, skipping", slog.String("job_name", jobName))
		return nil, fmt.Errorf("%s: %w", jobName, domain.ErrJobAlreadyRunning)
	}
	defer r.release(jobName)

	run := &domain.JobRun{
		ID:        uuid.NewString(),
		JobName:   jobName,
		Status:    domain.JobStatusRunning,
		StartedAt: r.now().UTC(),
	}

	logger := r.logger.With(
		slog.String("job_name", jobName),
		slog.String("run_id", run.ID),
	)

	if err := r.store.Ping(ctx); err != nil {
		// the store is down, so this failed run is only logged and counted, never persisted
		run.Finish(domain.JobStatusFailed, r.now(), "store unreachable: "+err.Error())
		observe(run)
		logger.Error("Store unreachable, job failed", slog.Any("error", err))
		return run, err
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		logger.Error("Failed to record job run", slog.Any("error", err))
		return nil, err
	}

	logger.Info("Job started", slog.Int("cities", len(r.entities)))

	t := &tally{}
	canceled, storeErr := r.dispatch(ctx, task, logger, t)

	status := domain.JobStatusSuccess
	msg := t.summary()
	var runErr error
	switch {
	case storeErr != nil:
		status = domain.JobStatusFailed
		msg = joinMessages("store failure: "+storeErr.Error(), msg)
		runErr = storeErr
	case canceled:
		status = domain.JobStatusFailed
		msg = joinMessages("job canceled", msg)
		runErr = fmt.Errorf("%s canceled: %w", jobName, context.Cause(ctx))
	}

	if err := r.finalize(ctx, logger, run, t, status, msg); err != nil && runErr == nil {
		runErr = err
	}

	return run, runErr
}

// dispatch fans entity work out with bounded concurrency. Dispatching stops on
// caller cancellation or on the first store failure; entities already started
// run to completion on a context that is not canceled.
func (r *Runner) dispatch(ctx context.Context, task entityTask, logger *slog.Logger, t *tally) (bool, error) {
	workCtx := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(workCtx)
	g.SetLimit(r.concurrency)

	canceled := false
	for _, e := range r.entities {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil || gctx.Err() != nil {
				return nil
			}
			return r.processEntity(workCtx, logger, e, task, t)
		})
	}

	err := g.Wait()
	if !canceled && ctx.Err() != nil && t.processed() < len(r.entities) {
		canceled = true
	}
	return canceled, err
}

// processEntity performs fetch, normalize and upsert for one entity. Only
// store failures are returned; everything else is tallied.
func (r *Runner) processEntity(ctx context.Context, logger *slog.Logger, e domain.Entity, task entityTask, t *tally) error {
	fetchCtx := ctx
	if r.entityTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.entityTimeout)
		defer cancel()
	}

	observations, dropped, err := task(fetchCtx, e)
	t.addDropped(dropped)
	if err != nil {
		logger.Warn("City failed",
			slog.String("entity", e.Name),
			slog.Bool("upstream", domain.IsUpstreamError(err)),
			slog.Any("error", err),
		)
		t.fail(e.Name, err)
		return nil
	}

	var inserted, updated int
	for _, obs := range observations {
		res, err := r.store.Upsert(ctx, obs)
		if err != nil {
			t.fail(e.Name, err)
			t.addWrites(inserted, updated)
			if !domain.IsStoreError(err) {
				err = domain.NewStoreError("upsert", err)
			}
			return fmt.Errorf("%s: %w", e.Name, err)
		}
		if res == domain.UpsertInserted {
			inserted++
		} else {
			updated++
		}
	}

	t.succeed(inserted, updated)
	logger.Debug("City processed",
		slog.String("entity", e.Name),
		slog.Int("inserted", inserted),
		slog.Int("updated", updated),
		slog.Int("dropped", dropped),
	)
	return nil
}

func (r *Runner) finalize(ctx context.Context, logger *slog.Logger, run *domain.JobRun, t *tally, status, msg string) error {
	t.apply(run)
	run.Finish(status, r.now(), msg)
	observe(run)

	// Finalization must land even when the caller has gone away.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := r.store.FinishRun(finishCtx, run); err != nil {
		logger.Error("Failed to finalize job run", slog.Any("error", err))
		return err
	}

	attrs := []any{
		slog.String("status", run.Status),
		slog.Int("cities_processed", run.CitiesProcessed),
		slog.Int("cities_failed", run.CitiesFailed),
		slog.Int("records_inserted", run.RecordsInserted),
		slog.Int("records_updated", run.RecordsUpdated),
		slog.Int("records_dropped", run.RecordsDropped),
	}
	if run.DurationSeconds != nil {
		attrs = append(attrs, slog.Float64("duration_seconds", *run.DurationSeconds))
	}
	if run.Status == domain.JobStatusSuccess {
		logger.Info("Job completed", attrs...)
	} else {
		logger.Error("Job failed", append(attrs, slog.String("error", msg))...)
	}
	return nil
}

func observe(run *domain.JobRun) {
	var duration float64
	if run.DurationSeconds != nil {
		duration = *run.DurationSeconds
	}
	metrics.ObserveJobRun(metrics.RunOutcome{
		Job:             run.JobName,
		Status:          run.Status,
		DurationSeconds: duration,
		Inserted:        run.RecordsInserted,
		Updated:         run.RecordsUpdated,
		Dropped:         run.RecordsDropped,
		Failed:          run.CitiesFailed,
	})
}

func joinMessages(head, tail string) string {
	if tail == "" {
		return head
	}
	return head + "; " + tail
}
