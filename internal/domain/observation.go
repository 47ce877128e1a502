package domain

import (
	"fmt"
	"time"
)

// Source tags the provenance of an Observation
type Source string

const (
	SourceLive      Source = "live"
	SourceBackfill  Source = "backfill"
	SourceSynthetic Source = "synthetic"
)

// ParseSource validates a provenance tag
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceLive, SourceBackfill, SourceSynthetic:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown observation source %q", s)
	}
}

// Observation is the canonical weather record for one entity at one timestamp.
// Units: temperatures in Celsius, pressure in hPa, wind speed in m/s,
// visibility in metres, humidity and cloud cover in percent.
type Observation struct {
	EntityID    string   `db:"entity_id" json:"city"`
	CountryCode string   `db:"country_code" json:"country_code"`
	Latitude    float64  `db:"latitude" json:"latitude"`
	Longitude   float64  `db:"longitude" json:"longitude"`
	Temperature *float64 `db:"temperature" json:"temperature,omitempty"`
	FeelsLike   *float64 `db:"feels_like" json:"feels_like,omitempty"`
	TempMin     *float64 `db:"temp_min" json:"temp_min,omitempty"`
	TempMax     *float64 `db:"temp_max" json:"temp_max,omitempty"`
	Pressure    *float64 `db:"pressure" json:"pressure,omitempty"`
	Humidity    *float64 `db:"humidity" json:"humidity,omitempty"`
	WindSpeed   *float64 `db:"wind_speed" json:"wind_speed,omitempty"`
	WindDeg     *float64 `db:"wind_deg" json:"wind_deg,omitempty"`
	Clouds      *float64 `db:"clouds" json:"clouds,omitempty"`
	Visibility  *float64 `db:"visibility" json:"visibility,omitempty"`

	Condition   string `db:"weather_main" json:"condition,omitempty"`
	Description string `db:"weather_description" json:"description,omitempty"`

	Timestamp time.Time  `db:"observed_at" json:"timestamp"`
	Sunrise   *time.Time `db:"sunrise" json:"sunrise,omitempty"`
	Sunset    *time.Time `db:"sunset" json:"sunset,omitempty"`

	Source          Source    `db:"source" json:"source"`
	RecordCreatedAt time.Time `db:"record_created_at" json:"record_created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// HasTemperature reports whether at least one temperature measurement is set
func (o Observation) HasTemperature() bool {
	return o.Temperature != nil || o.FeelsLike != nil || o.TempMin != nil || o.TempMax != nil
}

// UpsertResult reports what an upsert did to the stored row
type UpsertResult string

const (
	UpsertInserted UpsertResult = "inserted"
	UpsertUpdated  UpsertResult = "updated"
)

// Aggregate summarises the observations of one entity over a window
type Aggregate struct {
	EntityID       string    `json:"city"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	FirstTimestamp time.Time `json:"first_timestamp"`
	LastTimestamp  time.Time `json:"last_timestamp"`
	RecordCount    int       `json:"record_count"`

	AvgTemperature *float64 `json:"avg_temperature,omitempty"`
	MinTemperature *float64 `json:"min_temperature,omitempty"`
	MaxTemperature *float64 `json:"max_temperature,omitempty"`
	AvgHumidity    *float64 `json:"avg_humidity,omitempty"`
	AvgWindSpeed   *float64 `json:"avg_wind_speed,omitempty"`

	MostCommonCondition string `json:"most_common_condition,omitempty"`
}

// DataRange describes which timestamps are stored for an entity
type DataRange struct {
	EntityID string     `json:"city"`
	Earliest *time.Time `json:"earliest,omitempty"`
	Latest   *time.Time `json:"latest,omitempty"`
	Count    int        `json:"total_records"`

	// LargestGap is the widest spacing between consecutive rows. Only
	// coverage queries fill it.
	LargestGap time.Duration `json:"-"`
}

// Empty reports whether no rows were found
func (r DataRange) Empty() bool {
	return r.Count == 0 || r.Earliest == nil || r.Latest == nil
}

// StoreStats is a snapshot of the observation table
type StoreStats struct {
	TotalRecords    int            `json:"total_records"`
	DistinctCities  int            `json:"distinct_cities"`
	RecordsBySource map[string]int `json:"records_by_source"`
	NewestTimestamp *time.Time     `json:"newest_timestamp,omitempty"`
}
