package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/go-co-op/gocron"
)

// Startup backfill modes
const (
	BackfillAlways  = "always"
	BackfillIfEmpty = "if_empty"
	BackfillNever   = "never"
)

// JobRunner is what the scheduler fires
type JobRunner interface {
	RunPoll(ctx context.Context) (*domain.JobRun, error)
	RunBackfill(ctx context.Context, days int) (*domain.JobRun, error)
}

// StatsReader lets the scheduler check whether the store holds any data
type StatsReader interface {
	Stats(ctx context.Context) (domain.StoreStats, error)
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Runner            JobRunner
	Stats             StatsReader
	PollInterval      time.Duration
	BackfillDays      int
	BackfillOnStartup string
	Logger            *slog.Logger
}

// Scheduler owns the recurring poll timer and the one-shot startup backfill.
// Its lifecycle is tied to Start and Stop.
type Scheduler struct {
	cron         *gocron.Scheduler
	runner       JobRunner
	stats        StatsReader
	pollInterval time.Duration
	backfillDays int
	backfillMode string
	logger       *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a new Scheduler
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}

	mode := cfg.BackfillOnStartup
	switch mode {
	case "":
		mode = BackfillIfEmpty
	case BackfillAlways, BackfillIfEmpty, BackfillNever:
	default:
		return nil, fmt.Errorf("unknown backfill_on_startup mode %q", mode)
	}
	if mode != BackfillNever && cfg.BackfillDays <= 0 {
		return nil, fmt.Errorf("backfill days must be positive when startup backfill is %s", mode)
	}

	return &Scheduler{
		cron:         gocron.NewScheduler(time.UTC),
		runner:       cfg.Runner,
		stats:        cfg.Stats,
		pollInterval: cfg.PollInterval,
		backfillDays: cfg.BackfillDays,
		backfillMode: mode,
		logger:       cfg.Logger,
	}, nil
}

// Start registers the jobs and starts the timer. The poll fires immediately
// and then every PollInterval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	_, err := s.cron.Every(s.pollInterval).StartImmediately().Tag(domain.JobPollCurrent).Do(s.poll)
	if err != nil {
		return fmt.Errorf("failed to schedule poll: %w", err)
	}

	if s.backfillMode != BackfillNever {
		_, err = s.cron.Every(1).Day().StartImmediately().LimitRunsTo(1).Tag(domain.JobBackfillHistory).Do(s.startupBackfill)
		if err != nil {
			return fmt.Errorf("failed to schedule startup backfill: %w", err)
		}
	}

	s.cron.StartAsync()

	s.logger.Info("Scheduler started",
		slog.Duration("poll_interval", s.pollInterval),
		slog.String("backfill_on_startup", s.backfillMode),
		slog.Int("backfill_days", s.backfillDays),
	)
	return nil
}

// Stop cancels in-flight runs at city granularity, stops the timer and waits
// for running jobs to finalize.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.cron.Stop()
	s.wg.Wait()

	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) track() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.ctx == nil {
		return nil, false
	}
	s.wg.Add(1)
	return s.ctx, true
}

func (s *Scheduler) poll() {
	ctx, ok := s.track()
	if !ok {
		return
	}
	defer s.wg.Done()

	if _, err := s.runner.RunPoll(ctx); err != nil {
		s.logResult(domain.JobPollCurrent, err)
	}
}

func (s *Scheduler) startupBackfill() {
	ctx, ok := s.track()
	if !ok {
		return
	}
	defer s.wg.Done()

	run, err := s.shouldBackfill(ctx)
	if err != nil {
		s.logger.Error("Failed to decide on startup backfill", slog.Any("error", err))
		return
	}
	if !run {
		s.logger.Info("Store already holds data, skipping startup backfill")
		return
	}

	if _, err := s.runner.RunBackfill(ctx, s.backfillDays); err != nil {
		s.logResult(domain.JobBackfillHistory, err)
	}
}

func (s *Scheduler) shouldBackfill(ctx context.Context) (bool, error) {
	switch s.backfillMode {
	case BackfillAlways:
		return true, nil
	case BackfillNever:
		return false, nil
	}

	stats, err := s.stats.Stats(ctx)
	if err != nil {
		return false, err
	}
	return stats.TotalRecords == 0, nil
}

func (s *Scheduler) logResult(job string, err error) {
	if errors.Is(err, domain.ErrJobAlreadyRunning) {
		s.logger.Info("Previous run still in progress, trigger skipped", slog.String("job_name", job))
		return
	}
	s.logger.Error("Scheduled job failed",
		slog.String("job_name", job),
		slog.Any("error", err),
	)
}
