package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
)

const observationColumns = `
	entity_id, country_code, latitude, longitude,
	temperature, feels_like, temp_min, temp_max,
	pressure, humidity, wind_speed, wind_deg, clouds, visibility,
	weather_main, weather_description,
	observed_at, sunrise, sunset, source,
	record_created_at, updated_at`

// upsertQuery inserts an observation or overwrites every mutable column of the
// existing row. xmax is 0 only for a freshly inserted tuple.
const upsertQuery = `
	INSERT INTO observations (` + observationColumns + `
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8,
		$9, $10, $11, $12, $13, $14,
		$15, $16,
		$17, $18, $19, $20,
		$21, $21
	)
	ON CONFLICT (entity_id, observed_at) DO UPDATE SET
		country_code = EXCLUDED.country_code,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		temperature = EXCLUDED.temperature,
		feels_like = EXCLUDED.feels_like,
		temp_min = EXCLUDED.temp_min,
		temp_max = EXCLUDED.temp_max,
		pressure = EXCLUDED.pressure,
		humidity = EXCLUDED.humidity,
		wind_speed = EXCLUDED.wind_speed,
		wind_deg = EXCLUDED.wind_deg,
		clouds = EXCLUDED.clouds,
		visibility = EXCLUDED.visibility,
		weather_main = EXCLUDED.weather_main,
		weather_description = EXCLUDED.weather_description,
		sunrise = EXCLUDED.sunrise,
		sunset = EXCLUDED.sunset,
		source = EXCLUDED.source,
		updated_at = EXCLUDED.updated_at
	RETURNING (xmax = 0) AS inserted
`

// Upsert writes an observation keyed by (entity_id, observed_at) in a single
// conflict-aware statement. record_created_at is only set on insert.
func (s *Store) Upsert(ctx context.Context, obs domain.Observation) (domain.UpsertResult, error) {
	var inserted bool
	err := s.db.QueryRowContext(ctx, upsertQuery,
		obs.EntityID, obs.CountryCode, obs.Latitude, obs.Longitude,
		obs.Temperature, obs.FeelsLike, obs.TempMin, obs.TempMax,
		obs.Pressure, obs.Humidity, obs.WindSpeed, obs.WindDeg, obs.Clouds, obs.Visibility,
		obs.Condition, obs.Description,
		obs.Timestamp.UTC(), obs.Sunrise, obs.Sunset, string(obs.Source),
		s.now().UTC(),
	).Scan(&inserted)
	if err != nil {
		return "", domain.NewStoreError("upsert observation", err)
	}

	if inserted {
		return domain.UpsertInserted, nil
	}
	return domain.UpsertUpdated, nil
}

// Get returns the observation stored under the exact key
func (s *Store) Get(ctx context.Context, entityID string, ts time.Time) (domain.Observation, error) {
	query := `SELECT ` + observationColumns + `
		FROM observations
		WHERE entity_id = $1 AND observed_at = $2
	`

	var obs domain.Observation
	if err := s.db.GetContext(ctx, &obs, query, entityID, ts.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Observation{}, fmt.Errorf("%s at %s: %w", entityID, ts.UTC().Format(time.RFC3339), domain.ErrNotFound)
		}
		return domain.Observation{}, domain.NewStoreError("get observation", err)
	}
	return normalizeTimes(obs), nil
}

// GetLatest returns the newest observation of an entity
func (s *Store) GetLatest(ctx context.Context, entityID string) (domain.Observation, error) {
	query := `SELECT ` + observationColumns + `
		FROM observations
		WHERE entity_id = $1
		ORDER BY observed_at DESC
		LIMIT 1
	`

	var obs domain.Observation
	if err := s.db.GetContext(ctx, &obs, query, entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Observation{}, fmt.Errorf("%s: %w", entityID, domain.ErrNotFound)
		}
		return domain.Observation{}, domain.NewStoreError("get latest observation", err)
	}
	return normalizeTimes(obs), nil
}

// GetRange streams the observations of an entity with start <= observed_at <= end
// in ascending timestamp order. Each iteration runs the query again.
func (s *Store) GetRange(ctx context.Context, entityID string, start, end time.Time) iter.Seq2[domain.Observation, error] {
	query := `SELECT ` + observationColumns + `
		FROM observations
		WHERE entity_id = $1 AND observed_at >= $2 AND observed_at <= $3
		ORDER BY observed_at ASC
	`

	return func(yield func(domain.Observation, error) bool) {
		rows, err := s.db.QueryxContext(ctx, query, entityID, start.UTC(), end.UTC())
		if err != nil {
			yield(domain.Observation{}, domain.NewStoreError("get range", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var obs domain.Observation
			if err := rows.StructScan(&obs); err != nil {
				yield(domain.Observation{}, domain.NewStoreError("scan observation", err))
				return
			}
			if !yield(normalizeTimes(obs), nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(domain.Observation{}, domain.NewStoreError("get range", err))
		}
	}
}

// Aggregate summarises the window. It returns ErrEmptyRange when no row falls inside it.
func (s *Store) Aggregate(ctx context.Context, entityID string, start, end time.Time) (domain.Aggregate, error) {
	return Summarize(entityID, start, end, s.GetRange(ctx, entityID, start, end))
}

// Coverage reports the stored earliest, latest, count and largest gap between
// consecutive rows within [start, end]
func (s *Store) Coverage(ctx context.Context, entityID string, start, end time.Time) (domain.DataRange, error) {
	query := `
		SELECT MIN(observed_at), MAX(observed_at), COUNT(*),
			COALESCE(EXTRACT(EPOCH FROM MAX(gap)), 0)
		FROM (
			SELECT observed_at,
				observed_at - LAG(observed_at) OVER (ORDER BY observed_at) AS gap
			FROM observations
			WHERE entity_id = $1 AND observed_at >= $2 AND observed_at <= $3
		) w
	`
	var (
		earliest, latest sql.NullTime
		count            int
		gapSeconds       float64
	)
	err := s.db.QueryRowContext(ctx, query, entityID, start.UTC(), end.UTC()).Scan(&earliest, &latest, &count, &gapSeconds)
	if err != nil {
		return domain.DataRange{}, domain.NewStoreError("coverage", err)
	}

	r := toDataRange(entityID, earliest, latest, count)
	r.LargestGap = time.Duration(gapSeconds * float64(time.Second))
	return r, nil
}

// DataRange reports the overall earliest, latest and count stored for an entity
func (s *Store) DataRange(ctx context.Context, entityID string) (domain.DataRange, error) {
	query := `
		SELECT MIN(observed_at), MAX(observed_at), COUNT(*)
		FROM observations
		WHERE entity_id = $1
	`
	var (
		earliest, latest sql.NullTime
		count            int
	)
	if err := s.db.QueryRowContext(ctx, query, entityID).Scan(&earliest, &latest, &count); err != nil {
		return domain.DataRange{}, domain.NewStoreError("data range", err)
	}
	return toDataRange(entityID, earliest, latest, count), nil
}

func toDataRange(entityID string, earliest, latest sql.NullTime, count int) domain.DataRange {
	r := domain.DataRange{EntityID: entityID, Count: count}
	if earliest.Valid {
		t := earliest.Time.UTC()
		r.Earliest = &t
	}
	if latest.Valid {
		t := latest.Time.UTC()
		r.Latest = &t
	}
	return r
}

// Stats returns a snapshot of the observation table
func (s *Store) Stats(ctx context.Context) (domain.StoreStats, error) {
	var (
		total, cities int
		newest        sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT entity_id), MAX(observed_at)
		FROM observations
	`).Scan(&total, &cities, &newest)
	if err != nil {
		return domain.StoreStats{}, domain.NewStoreError("stats", err)
	}

	var bySource []struct {
		Source string `db:"source"`
		Count  int    `db:"count"`
	}
	err = s.db.SelectContext(ctx, &bySource, `
		SELECT source, COUNT(*) AS count
		FROM observations
		GROUP BY source
		ORDER BY source
	`)
	if err != nil {
		return domain.StoreStats{}, domain.NewStoreError("stats by source", err)
	}

	stats := domain.StoreStats{
		TotalRecords:    total,
		DistinctCities:  cities,
		RecordsBySource: make(map[string]int, len(bySource)),
	}
	for _, row := range bySource {
		stats.RecordsBySource[row.Source] = row.Count
	}
	if newest.Valid {
		t := newest.Time.UTC()
		stats.NewestTimestamp = &t
	}
	return stats, nil
}

func normalizeTimes(o domain.Observation) domain.Observation {
	o.Timestamp = o.Timestamp.UTC()
	o.RecordCreatedAt = o.RecordCreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	if o.Sunrise != nil {
		t := o.Sunrise.UTC()
		o.Sunrise = &t
	}
	if o.Sunset != nil {
		t := o.Sunset.UTC()
		o.Sunset = &t
	}
	return o
}
