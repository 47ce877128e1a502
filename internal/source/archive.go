package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
)

// ArchiveSourceName identifies the archive adapter in errors and metrics
const ArchiveSourceName = "open-meteo"

const archiveDateLayout = "2006-01-02"

// archiveHourlyFields is the set of hourly variables requested from the archive
const archiveHourlyFields = "temperature_2m,apparent_temperature,relative_humidity_2m,wind_speed_10m,wind_direction_10m,cloud_cover,weather_code"

// ArchiveConfig configures the Open-Meteo archive adapter
type ArchiveConfig struct {
	ClientConfig
	MaxDaysPerRequest int
}

// ArchiveClient fetches hourly history from the Open-Meteo archive
type ArchiveClient struct {
	baseURL   string
	maxDays   int
	transport *transport
	logger    *slog.Logger
}

// NewArchiveClient creates a new archive adapter
func NewArchiveClient(cfg ArchiveConfig, logger *slog.Logger) *ArchiveClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://archive-api.open-meteo.com/v1/archive"
	}
	maxDays := cfg.MaxDaysPerRequest
	if maxDays <= 0 {
		maxDays = 31
	}

	return &ArchiveClient{
		baseURL:   baseURL,
		maxDays:   maxDays,
		transport: newTransport(ArchiveSourceName, cfg.ClientConfig, logger),
		logger:    logger,
	}
}

type archivePayload struct {
	UTCOffsetSeconds int `json:"utc_offset_seconds"`
	HourlyUnits      struct {
		Temperature string `json:"temperature_2m"`
		WindSpeed   string `json:"wind_speed_10m"`
	} `json:"hourly_units"`
	Hourly struct {
		Time                []string   `json:"time"`
		Temperature         []*float64 `json:"temperature_2m"`
		ApparentTemperature []*float64 `json:"apparent_temperature"`
		Humidity            []*float64 `json:"relative_humidity_2m"`
		WindSpeed           []*float64 `json:"wind_speed_10m"`
		WindDirection       []*float64 `json:"wind_direction_10m"`
		CloudCover          []*float64 `json:"cloud_cover"`
		WeatherCode         []*float64 `json:"weather_code"`
	} `json:"hourly"`
}

// FetchRange returns hourly archive rows for the calendar days spanning [start, end].
// The range is split into requests of at most MaxDaysPerRequest days. Rows are
// returned in upstream order; the caller filters to its exact window.
func (c *ArchiveClient) FetchRange(ctx context.Context, e domain.Entity, start, end time.Time) ([]ArchiveRecord, error) {
	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		return nil, fmt.Errorf("invalid archive range: end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	var records []ArchiveRecord
	for _, page := range pageDays(start, end, c.maxDays) {
		rows, err := c.fetchPage(ctx, e, page[0], page[1])
		if err != nil {
			return nil, err
		}
		records = append(records, rows...)
	}

	c.logger.Debug("Fetched archive range",
		slog.String("entity", e.Name),
		slog.String("start", start.Format(archiveDateLayout)),
		slog.String("end", end.Format(archiveDateLayout)),
		slog.Int("records", len(records)),
	)

	return records, nil
}

func (c *ArchiveClient) fetchPage(ctx context.Context, e domain.Entity, from, to time.Time) ([]ArchiveRecord, error) {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(e.Latitude, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(e.Longitude, 'f', -1, 64))
	values.Set("start_date", from.Format(archiveDateLayout))
	values.Set("end_date", to.Format(archiveDateLayout))
	values.Set("hourly", archiveHourlyFields)
	values.Set("timezone", "UTC")

	body, err := c.transport.get(ctx, c.baseURL+"?"+values.Encode())
	if err != nil {
		code := statusCode(err)
		return nil, &domain.UpstreamError{
			Source:      ArchiveSourceName,
			EntityID:    e.Name,
			StatusCode:  code,
			RateLimited: code == 429,
			Err:         err,
		}
	}

	var payload archivePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &domain.UpstreamError{Source: ArchiveSourceName, EntityID: e.Name, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	h := payload.Hourly
	rows := make([]ArchiveRecord, 0, len(h.Time))
	for i, ts := range h.Time {
		rec := ArchiveRecord{
			EntityID:            e.Name,
			Country:             e.Country,
			Latitude:            e.Latitude,
			Longitude:           e.Longitude,
			Time:                ts,
			UTCOffsetSeconds:    payload.UTCOffsetSeconds,
			TemperatureUnit:     payload.HourlyUnits.Temperature,
			WindSpeedUnit:       payload.HourlyUnits.WindSpeed,
			Temperature:         at(h.Temperature, i),
			ApparentTemperature: at(h.ApparentTemperature, i),
			Humidity:            at(h.Humidity, i),
			WindSpeed:           at(h.WindSpeed, i),
			WindDirection:       at(h.WindDirection, i),
			CloudCover:          at(h.CloudCover, i),
		}
		if code := at(h.WeatherCode, i); code != nil {
			v := int(*code)
			rec.WeatherCode = &v
		}
		rows = append(rows, rec)
	}

	return rows, nil
}

// pageDays splits the calendar days covering [start, end] into inclusive
// [from, to] pairs of at most maxDays days each
func pageDays(start, end time.Time, maxDays int) [][2]time.Time {
	first := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var pages [][2]time.Time
	for from := first; !from.After(last); from = from.AddDate(0, 0, maxDays) {
		to := from.AddDate(0, 0, maxDays-1)
		if to.After(last) {
			to = last
		}
		pages = append(pages, [2]time.Time{from, to})
	}
	return pages
}

// at returns values[i], or nil when the column is short or the cell is null
func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
