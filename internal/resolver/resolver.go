// Package resolver answers latest and history queries from the store, falling
// back to the live source when the stored latest observation is stale.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/cuongbtq/weather-pipeline/internal/metrics"
	"github.com/cuongbtq/weather-pipeline/internal/normalize"
	"github.com/cuongbtq/weather-pipeline/internal/source"
)

const (
	// DefaultStalenessThreshold is how old a stored latest observation may be before a live fetch
	DefaultStalenessThreshold = time.Hour
	// DefaultCoverageTolerance is the slack allowed at each window edge and between rows
	DefaultCoverageTolerance = 2 * time.Hour

	// sampleInterval is the archive resolution; interior gaps up to it are never holes
	sampleInterval = time.Hour
)

// Store is the read/write surface the resolver needs
type Store interface {
	GetLatest(ctx context.Context, entityID string) (domain.Observation, error)
	Get(ctx context.Context, entityID string, ts time.Time) (domain.Observation, error)
	Upsert(ctx context.Context, obs domain.Observation) (domain.UpsertResult, error)
	Coverage(ctx context.Context, entityID string, start, end time.Time) (domain.DataRange, error)
	Aggregate(ctx context.Context, entityID string, start, end time.Time) (domain.Aggregate, error)
	GetRange(ctx context.Context, entityID string, start, end time.Time) iter.Seq2[domain.Observation, error]
}

// LiveSource fetches a current observation
type LiveSource interface {
	FetchCurrent(ctx context.Context, e domain.Entity) (source.LiveRecord, error)
}

// Entities resolves city names
type Entities interface {
	Lookup(name string) (domain.Entity, error)
}

// Config holds resolver configuration
type Config struct {
	Store              Store
	Live               LiveSource
	Entities           Entities
	StalenessThreshold time.Duration
	CoverageTolerance  time.Duration
	Logger             *slog.Logger
}

// Resolver is safe for concurrent use
type Resolver struct {
	store     Store
	live      LiveSource
	entities  Entities
	staleness time.Duration
	tolerance time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Resolver
func New(cfg *Config) *Resolver {
	staleness := cfg.StalenessThreshold
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	tolerance := cfg.CoverageTolerance
	if tolerance <= 0 {
		tolerance = DefaultCoverageTolerance
	}

	return &Resolver{
		store:     cfg.Store,
		live:      cfg.Live,
		entities:  cfg.Entities,
		staleness: staleness,
		tolerance: tolerance,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Resolve answers an intent store-first, source-second
func (r *Resolver) Resolve(ctx context.Context, intent domain.Intent) (domain.Resolution, error) {
	if intent.IsLatest() {
		obs, err := r.Latest(ctx, intent.Entity)
		if err != nil {
			return domain.Resolution{}, err
		}
		return domain.Resolution{Observation: &obs}, nil
	}

	if intent.Start.IsZero() || intent.End.IsZero() {
		return domain.Resolution{}, fmt.Errorf("%w: both start and end are required", domain.ErrInvalidWindow)
	}

	res, err := r.History(ctx, intent.Entity, intent.Start, intent.End)
	if err != nil {
		return domain.Resolution{}, err
	}
	return domain.Resolution{History: &res}, nil
}

// Latest returns the newest observation for a city. A stored row younger than
// the staleness threshold is returned as is; otherwise the live source is
// called once and the result is written through and read back.
func (r *Resolver) Latest(ctx context.Context, name string) (domain.Observation, error) {
	e, err := r.entities.Lookup(name)
	if err != nil {
		metrics.IncResolverRequest("latest", "unknown_city")
		return domain.Observation{}, err
	}

	stored, err := r.store.GetLatest(ctx, e.Name)
	switch {
	case err == nil:
		if r.fresh(stored) {
			metrics.IncResolverRequest("latest", "fresh")
			return stored, nil
		}
		r.logger.Info("Stored observation is stale, fetching live",
			slog.String("entity", e.Name),
			slog.Time("observed_at", stored.Timestamp),
			slog.Duration("threshold", r.staleness),
		)
	case errors.Is(err, domain.ErrNotFound):
		r.logger.Info("No stored observation, fetching live", slog.String("entity", e.Name))
	default:
		metrics.IncResolverRequest("latest", "error")
		return domain.Observation{}, err
	}

	obs, err := r.fetchLive(ctx, e)
	if err != nil {
		metrics.IncResolverRequest("latest", "error")
		r.logger.Warn("Live fallback failed",
			slog.String("entity", e.Name),
			slog.Any("error", err),
		)
		return domain.Observation{}, err
	}

	metrics.IncResolverRequest("latest", "fallback")
	return obs, nil
}

func (r *Resolver) fresh(obs domain.Observation) bool {
	return r.now().Sub(obs.Timestamp) <= r.staleness
}

func (r *Resolver) fetchLive(ctx context.Context, e domain.Entity) (domain.Observation, error) {
	rec, err := r.live.FetchCurrent(ctx, e)
	if err != nil {
		return domain.Observation{}, err
	}

	obs, err := normalize.Normalize(rec, domain.SourceLive)
	if err != nil {
		return domain.Observation{}, err
	}

	if _, err := r.store.Upsert(ctx, obs); err != nil {
		return domain.Observation{}, err
	}

	stored, err := r.store.Get(ctx, obs.EntityID, obs.Timestamp)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("re-read after write: %w", err)
	}
	return stored, nil
}

// History aggregates stored observations over [start, end] when stored coverage
// spans the window, within the coverage tolerance at both ends. Otherwise it
// reports what is available. It never calls a source.
func (r *Resolver) History(ctx context.Context, name string, start, end time.Time) (domain.HistoryResult, error) {
	e, err := r.entities.Lookup(name)
	if err != nil {
		metrics.IncResolverRequest("history", "unknown_city")
		return domain.HistoryResult{}, err
	}

	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		metrics.IncResolverRequest("history", "error")
		return domain.HistoryResult{}, fmt.Errorf("%w: end %s is before start %s", domain.ErrInvalidWindow, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	cov, err := r.store.Coverage(ctx, e.Name, start, end)
	if err != nil {
		metrics.IncResolverRequest("history", "error")
		return domain.HistoryResult{}, err
	}

	if !r.covers(cov, start, end) {
		metrics.IncResolverRequest("history", "insufficient")
		r.logger.Info("Insufficient history",
			slog.String("entity", e.Name),
			slog.Time("start", start),
			slog.Time("end", end),
			slog.Int("records", cov.Count),
			slog.Duration("largest_gap", cov.LargestGap),
		)
		return domain.HistoryResult{
			Status: domain.HistoryInsufficient,
			Insufficient: &domain.InsufficientHistory{
				EntityID:       e.Name,
				RequestedStart: start,
				RequestedEnd:   end,
				AvailableStart: cov.Earliest,
				AvailableEnd:   cov.Latest,
				RecordCount:    cov.Count,
			},
		}, nil
	}

	agg, err := r.store.Aggregate(ctx, e.Name, start, end)
	if err != nil {
		metrics.IncResolverRequest("history", "error")
		return domain.HistoryResult{}, err
	}

	metrics.IncResolverRequest("history", "complete")
	return domain.HistoryResult{Status: domain.HistoryComplete, Aggregate: &agg}, nil
}

// Observations streams the stored rows of a city over [start, end]
func (r *Resolver) Observations(ctx context.Context, name string, start, end time.Time) (iter.Seq2[domain.Observation, error], error) {
	e, err := r.entities.Lookup(name)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end is before start", domain.ErrInvalidWindow)
	}
	return r.store.GetRange(ctx, e.Name, start.UTC(), end.UTC()), nil
}

// covers reports whether stored rows span [start, end]: both edges within the
// tolerance and no interior gap wider than the tolerance
func (r *Resolver) covers(cov domain.DataRange, start, end time.Time) bool {
	if cov.Empty() {
		return false
	}
	if cov.Earliest.After(start.Add(r.tolerance)) || cov.Latest.Before(end.Add(-r.tolerance)) {
		return false
	}
	return cov.LargestGap <= max(r.tolerance, sampleInterval)
}
