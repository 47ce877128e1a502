// Package normalize maps raw source records into canonical observations.
package normalize

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/cuongbtq/weather-pipeline/internal/source"
)

const (
	kelvinOffset = 273.15
	mphToMS      = 0.44704
	knotsToMS    = 0.514444
	kmhToMS      = 1 / 3.6
)

var archiveTimeLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05"}

// Normalize converts a raw record into an Observation tagged with kind.
// It has no side effects.
func Normalize(raw source.Record, kind domain.Source) (domain.Observation, error) {
	if _, err := domain.ParseSource(string(kind)); err != nil {
		return domain.Observation{}, &domain.NormalizationError{Field: "source", Reason: err.Error()}
	}

	var (
		obs domain.Observation
		err error
	)
	switch r := raw.(type) {
	case source.LiveRecord:
		obs, err = fromLive(r)
	case *source.LiveRecord:
		if r == nil {
			return domain.Observation{}, &domain.NormalizationError{Field: "record", Reason: "nil record"}
		}
		obs, err = fromLive(*r)
	case source.ArchiveRecord:
		obs, err = fromArchive(r)
	case *source.ArchiveRecord:
		if r == nil {
			return domain.Observation{}, &domain.NormalizationError{Field: "record", Reason: "nil record"}
		}
		obs, err = fromArchive(*r)
	default:
		return domain.Observation{}, &domain.NormalizationError{Field: "record", Reason: fmt.Sprintf("unsupported record type %T", raw)}
	}
	if err != nil {
		return domain.Observation{}, err
	}

	if !obs.HasTemperature() {
		return domain.Observation{}, &domain.NormalizationError{EntityID: obs.EntityID, Field: "temperature", Reason: "no temperature measurement"}
	}

	obs.Source = kind
	return obs, nil
}

func fromLive(r source.LiveRecord) (domain.Observation, error) {
	entity := strings.TrimSpace(r.EntityID)
	if entity == "" {
		return domain.Observation{}, &domain.NormalizationError{Field: "entity_id", Reason: "missing"}
	}
	if r.Dt == nil {
		return domain.Observation{}, &domain.NormalizationError{EntityID: entity, Field: "timestamp", Reason: "missing"}
	}
	if *r.Dt <= 0 {
		return domain.Observation{}, &domain.NormalizationError{EntityID: entity, Field: "timestamp", Reason: fmt.Sprintf("invalid epoch %d", *r.Dt)}
	}

	var toCelsius func(float64) float64
	windToMS := identity
	switch r.Units {
	case source.UnitsMetric, "":
		toCelsius = identity
	case source.UnitsStandard:
		toCelsius = func(k float64) float64 { return k - kelvinOffset }
	case source.UnitsImperial:
		toCelsius = fahrenheitToCelsius
		windToMS = func(v float64) float64 { return v * mphToMS }
	default:
		return domain.Observation{}, &domain.NormalizationError{EntityID: entity, Field: "units", Reason: fmt.Sprintf("unknown unit system %q", r.Units)}
	}

	obs := domain.Observation{
		EntityID:    entity,
		CountryCode: r.Country,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Timestamp:   time.Unix(*r.Dt, 0).UTC(),
		Temperature: convert(r.Temp, toCelsius),
		FeelsLike:   convert(r.FeelsLike, toCelsius),
		TempMin:     convert(r.TempMin, toCelsius),
		TempMax:     convert(r.TempMax, toCelsius),
		Pressure:    convert(r.Pressure, identity),
		Humidity:    convert(r.Humidity, identity),
		WindSpeed:   convert(r.WindSpeed, windToMS),
		WindDeg:     convert(r.WindDeg, identity),
		Clouds:      convert(r.Clouds, identity),
		Visibility:  convert(r.Visibility, identity),
		Condition:   r.Main,
		Description: r.Description,
		Sunrise:     epoch(r.Sunrise),
		Sunset:      epoch(r.Sunset),
	}
	return obs, nil
}

func fromArchive(r source.ArchiveRecord) (domain.Observation, error) {
	entity := strings.TrimSpace(r.EntityID)
	if entity == "" {
		return domain.Observation{}, &domain.NormalizationError{Field: "entity_id", Reason: "missing"}
	}

	ts, err := parseArchiveTime(r.Time, r.UTCOffsetSeconds)
	if err != nil {
		return domain.Observation{}, &domain.NormalizationError{EntityID: entity, Field: "timestamp", Reason: err.Error()}
	}

	var toCelsius func(float64) float64
	switch r.TemperatureUnit {
	case "°C", "celsius", "":
		toCelsius = identity
	case "°F", "fahrenheit":
		toCelsius = fahrenheitToCelsius
	default:
		return domain.Observation{}, &domain.NormalizationError{EntityID: entity, Field: "temperature_unit", Reason: fmt.Sprintf("unknown unit %q", r.TemperatureUnit)}
	}

	var windToMS func(float64) float64
	switch r.WindSpeedUnit {
	case "km/h", "kmh", "":
		windToMS = func(v float64) float64 { return v * kmhToMS }
	case "m/s", "ms":
		windToMS = identity
	case "mph":
		windToMS = func(v float64) float64 { return v * mphToMS }
	case "kn":
		windToMS = func(v float64) float64 { return v * knotsToMS }
	default:
		return domain.Observation{}, &domain.NormalizationError{EntityID: entity, Field: "wind_speed_unit", Reason: fmt.Sprintf("unknown unit %q", r.WindSpeedUnit)}
	}

	condition, description := wmoCondition(r.WeatherCode)

	obs := domain.Observation{
		EntityID:    entity,
		CountryCode: r.Country,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Timestamp:   ts,
		Temperature: convert(r.Temperature, toCelsius),
		FeelsLike:   convert(r.ApparentTemperature, toCelsius),
		Humidity:    convert(r.Humidity, identity),
		WindSpeed:   convert(r.WindSpeed, windToMS),
		WindDeg:     convert(r.WindDirection, identity),
		Clouds:      convert(r.CloudCover, identity),
		Condition:   condition,
		Description: description,
	}
	return obs, nil
}

func parseArchiveTime(value string, offsetSeconds int) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("missing")
	}
	for _, layout := range archiveTimeLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return t.Add(-time.Duration(offsetSeconds) * time.Second).Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable time %q", value)
}

// convert applies fn to a finite value; NaN and Inf become unset
func convert(v *float64, fn func(float64) float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	out := round2(fn(*v))
	return &out
}

func epoch(v *int64) *time.Time {
	if v == nil || *v <= 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

func identity(v float64) float64 { return v }

func fahrenheitToCelsius(f float64) float64 { return (f - 32) * 5 / 9 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
