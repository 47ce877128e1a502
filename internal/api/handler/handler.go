package handler

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/cuongbtq/weather-pipeline/internal/store"
	"github.com/gin-gonic/gin"
)

// WeatherResolver answers the two agent queries plus raw range reads
type WeatherResolver interface {
	Latest(ctx context.Context, city string) (domain.Observation, error)
	History(ctx context.Context, city string, start, end time.Time) (domain.HistoryResult, error)
	Observations(ctx context.Context, city string, start, end time.Time) (iter.Seq2[domain.Observation, error], error)
}

// CityRegistry lists and resolves monitored cities
type CityRegistry interface {
	All() []domain.Entity
	Lookup(name string) (domain.Entity, error)
}

// StoreReader is the read-only store surface used outside the resolver
type StoreReader interface {
	Stats(ctx context.Context) (domain.StoreStats, error)
	DataRange(ctx context.Context, entityID string) (domain.DataRange, error)
	GetRun(ctx context.Context, runID string) (*domain.JobRun, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]domain.JobRun, error)
}

// TriggerPublisher delivers job triggers to the worker
type TriggerPublisher interface {
	PublishJSON(ctx context.Context, messageID string, body []byte) error
}

// HealthChecker reports reachability of the service dependencies
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger             *slog.Logger
	Resolver           WeatherResolver
	Cities             CityRegistry
	Store              StoreReader
	Publisher          TriggerPublisher
	Health             HealthChecker
	MCP                http.Handler
	DefaultHistoryDays int
	MaxHistoryDays     int
	MaxBackfillDays    int
	Now                func() time.Time
}

// WeatherHandler serves weather queries
type WeatherHandler struct {
	logger      *slog.Logger
	resolver    WeatherResolver
	cities      CityRegistry
	store       StoreReader
	defaultDays int
	maxDays     int
	now         func() time.Time
}

// NewWeatherHandler creates a new WeatherHandler instance
func NewWeatherHandler(deps *Dependencies) *WeatherHandler {
	defaultDays := deps.DefaultHistoryDays
	if defaultDays <= 0 {
		defaultDays = 7
	}
	return &WeatherHandler{
		logger:      deps.Logger,
		resolver:    deps.Resolver,
		cities:      deps.Cities,
		store:       deps.Store,
		defaultDays: defaultDays,
		maxDays:     deps.MaxHistoryDays,
		now:         nowFunc(deps),
	}
}

// JobHandler serves job triggers and run history
type JobHandler struct {
	logger    *slog.Logger
	store     StoreReader
	publisher TriggerPublisher
	maxDays   int
	now       func() time.Time
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		publisher: deps.Publisher,
		maxDays:   deps.MaxBackfillDays,
		now:       nowFunc(deps),
	}
}

func nowFunc(deps *Dependencies) func() time.Time {
	if deps.Now != nil {
		return deps.Now
	}
	return time.Now
}

// writeError maps domain errors onto HTTP statuses
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, domain.ErrUnknownEntity):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrRunNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInvalidWindow), errors.Is(err, domain.ErrInvalidTrigger):
		status, msg = http.StatusBadRequest, err.Error()
	case domain.IsUpstreamError(err):
		status, msg = http.StatusBadGateway, "weather provider unavailable"
	case domain.IsNormalizationError(err):
		status, msg = http.StatusBadGateway, "weather provider returned an unusable record"
	case domain.IsStoreError(err):
		status, msg = http.StatusServiceUnavailable, "weather store unavailable"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}

	c.JSON(status, gin.H{"error": msg})
}
