// Package store persists observations and job runs in PostgreSQL.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Store handles all database operations for observations and job runs
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new Store
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.NewStoreError("ping", err)
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS observations (
		entity_id           TEXT             NOT NULL,
		country_code        TEXT             NOT NULL DEFAULT '',
		latitude            DOUBLE PRECISION NOT NULL,
		longitude           DOUBLE PRECISION NOT NULL,
		temperature         DOUBLE PRECISION,
		feels_like          DOUBLE PRECISION,
		temp_min            DOUBLE PRECISION,
		temp_max            DOUBLE PRECISION,
		pressure            DOUBLE PRECISION,
		humidity            DOUBLE PRECISION,
		wind_speed          DOUBLE PRECISION,
		wind_deg            DOUBLE PRECISION,
		clouds              DOUBLE PRECISION,
		visibility          DOUBLE PRECISION,
		weather_main        TEXT             NOT NULL DEFAULT '',
		weather_description TEXT             NOT NULL DEFAULT '',
		observed_at         TIMESTAMPTZ      NOT NULL,
		sunrise             TIMESTAMPTZ,
		sunset              TIMESTAMPTZ,
		source              TEXT             NOT NULL CHECK (source IN ('live', 'backfill', 'synthetic')),
		record_created_at   TIMESTAMPTZ      NOT NULL,
		updated_at          TIMESTAMPTZ      NOT NULL,
		CONSTRAINT uq_observations_entity_time UNIQUE (entity_id, observed_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_observed_at ON observations (observed_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_source ON observations (source)`,
	`CREATE TABLE IF NOT EXISTS job_runs (
		id               UUID        PRIMARY KEY,
		job_name         TEXT        NOT NULL,
		status           TEXT        NOT NULL CHECK (status IN ('running', 'success', 'failed')),
		started_at       TIMESTAMPTZ NOT NULL,
		completed_at     TIMESTAMPTZ,
		duration_seconds DOUBLE PRECISION,
		cities_processed INTEGER     NOT NULL DEFAULT 0,
		cities_failed    INTEGER     NOT NULL DEFAULT 0,
		records_inserted INTEGER     NOT NULL DEFAULT 0,
		records_updated  INTEGER     NOT NULL DEFAULT 0,
		records_dropped  INTEGER     NOT NULL DEFAULT 0,
		error_message    VARCHAR(500)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_runs_started ON job_runs (started_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_job_runs_name_status ON job_runs (job_name, status)`,
}

// EnsureSchema creates the tables and indexes if they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return domain.NewStoreError("ensure schema", fmt.Errorf("statement %d: %w", i+1, err))
		}
	}

	s.logger.Info("Database schema ready", slog.Int("statements", len(schema)))
	return nil
}
