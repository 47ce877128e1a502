package dto

import (
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
)

// HistoryRequest selects a window either by days back from now or by explicit bounds
type HistoryRequest struct {
	Days  int       `form:"days"`
	Start time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End   time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
}

type CityDTO struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

type ListCitiesResponse struct {
	Cities []CityDTO `json:"cities"`
	Count  int       `json:"count"`
}

type ObservationsResponse struct {
	City         string               `json:"city"`
	Start        time.Time            `json:"start"`
	End          time.Time            `json:"end"`
	Observations []domain.Observation `json:"observations"`
	Count        int                  `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
