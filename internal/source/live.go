package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
)

// LiveSourceName identifies the live adapter in errors and metrics
const LiveSourceName = "openweathermap"

// LiveConfig configures the OpenWeatherMap current-weather adapter
type LiveConfig struct {
	ClientConfig
	APIKey string
	Units  string // standard, metric or imperial
}

// LiveClient fetches current observations from OpenWeatherMap
type LiveClient struct {
	baseURL   string
	apiKey    string
	units     string
	transport *transport
	logger    *slog.Logger
}

// NewLiveClient creates a new live adapter
func NewLiveClient(cfg LiveConfig, logger *slog.Logger) *LiveClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	units := cfg.Units
	if units == "" {
		units = UnitsMetric
	}

	return &LiveClient{
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		units:     units,
		transport: newTransport(LiveSourceName, cfg.ClientConfig, logger),
		logger:    logger,
	}
}

type owmPayload struct {
	Coord struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	} `json:"coord"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		TempMin   *float64 `json:"temp_min"`
		TempMax   *float64 `json:"temp_max"`
		Pressure  *float64 `json:"pressure"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Visibility *float64 `json:"visibility"`
	Wind       struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	Dt  *int64 `json:"dt"`
	Sys struct {
		Country string `json:"country"`
		Sunrise *int64 `json:"sunrise"`
		Sunset  *int64 `json:"sunset"`
	} `json:"sys"`
}

// FetchCurrent returns the current observation for an entity, keyed by its coordinates.
// Every failure is an *domain.UpstreamError.
func (c *LiveClient) FetchCurrent(ctx context.Context, e domain.Entity) (LiveRecord, error) {
	if c.apiKey == "" {
		return LiveRecord{}, &domain.UpstreamError{Source: LiveSourceName, EntityID: e.Name, Err: fmt.Errorf("api key is not configured")}
	}

	values := url.Values{}
	values.Set("lat", strconv.FormatFloat(e.Latitude, 'f', -1, 64))
	values.Set("lon", strconv.FormatFloat(e.Longitude, 'f', -1, 64))
	values.Set("appid", c.apiKey)
	values.Set("units", c.units)

	body, err := c.transport.get(ctx, c.baseURL+"?"+values.Encode())
	if err != nil {
		code := statusCode(err)
		return LiveRecord{}, &domain.UpstreamError{
			Source:      LiveSourceName,
			EntityID:    e.Name,
			StatusCode:  code,
			RateLimited: code == 429,
			Err:         err,
		}
	}

	var payload owmPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return LiveRecord{}, &domain.UpstreamError{Source: LiveSourceName, EntityID: e.Name, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	rec := LiveRecord{
		EntityID:   e.Name,
		Country:    e.Country,
		Latitude:   e.Latitude,
		Longitude:  e.Longitude,
		Units:      c.units,
		Dt:         payload.Dt,
		Temp:       payload.Main.Temp,
		FeelsLike:  payload.Main.FeelsLike,
		TempMin:    payload.Main.TempMin,
		TempMax:    payload.Main.TempMax,
		Pressure:   payload.Main.Pressure,
		Humidity:   payload.Main.Humidity,
		WindSpeed:  payload.Wind.Speed,
		WindDeg:    payload.Wind.Deg,
		Clouds:     payload.Clouds.All,
		Visibility: payload.Visibility,
		Sunrise:    payload.Sys.Sunrise,
		Sunset:     payload.Sys.Sunset,
	}
	if payload.Sys.Country != "" {
		rec.Country = payload.Sys.Country
	}
	if payload.Coord.Lat != nil && payload.Coord.Lon != nil {
		rec.Latitude = *payload.Coord.Lat
		rec.Longitude = *payload.Coord.Lon
	}
	if len(payload.Weather) > 0 {
		rec.Main = payload.Weather[0].Main
		rec.Description = payload.Weather[0].Description
	}

	c.logger.Debug("Fetched live observation",
		slog.String("entity", e.Name),
		slog.String("units", c.units),
	)

	return rec, nil
}
