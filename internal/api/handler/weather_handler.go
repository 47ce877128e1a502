package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/api/dto"
	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/gin-gonic/gin"
)

// ListCities handles GET /api/v1/cities, optionally filtered by ?q=
func (h *WeatherHandler) ListCities(c *gin.Context) {
	query := strings.ToLower(strings.TrimSpace(c.Query("q")))

	cities := []dto.CityDTO{}
	for _, e := range h.cities.All() {
		if query != "" && !strings.Contains(strings.ToLower(e.Name), query) {
			continue
		}
		cities = append(cities, dto.CityDTO{
			Name:      e.Name,
			Country:   e.Country,
			Latitude:  e.Latitude,
			Longitude: e.Longitude,
		})
	}

	c.JSON(http.StatusOK, dto.ListCitiesResponse{Cities: cities, Count: len(cities)})
}

// GetLatest handles GET /api/v1/weather/:city/latest
func (h *WeatherHandler) GetLatest(c *gin.Context) {
	city := c.Param("city")

	obs, err := h.resolver.Latest(c.Request.Context(), city)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, obs)
}

// GetHistory handles GET /api/v1/weather/:city/history
// Incomplete stored history is not an error: the body carries
// status "insufficient_history" and the available window.
func (h *WeatherHandler) GetHistory(c *gin.Context) {
	city := c.Param("city")

	start, end, ok := h.window(c)
	if !ok {
		return
	}

	h.logger.Debug("History requested",
		slog.String("city", city),
		slog.Time("start", start),
		slog.Time("end", end),
	)

	res, err := h.resolver.History(c.Request.Context(), city, start, end)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// GetObservations handles GET /api/v1/weather/:city/observations
func (h *WeatherHandler) GetObservations(c *gin.Context) {
	city := c.Param("city")

	start, end, ok := h.window(c)
	if !ok {
		return
	}

	seq, err := h.resolver.Observations(c.Request.Context(), city, start, end)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	observations := []domain.Observation{}
	for obs, err := range seq {
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		observations = append(observations, obs)
	}

	c.JSON(http.StatusOK, dto.ObservationsResponse{
		City:         city,
		Start:        start,
		End:          end,
		Observations: observations,
		Count:        len(observations),
	})
}

// GetDataRange handles GET /api/v1/weather/:city/range
func (h *WeatherHandler) GetDataRange(c *gin.Context) {
	e, err := h.cities.Lookup(c.Param("city"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	dr, err := h.store.DataRange(c.Request.Context(), e.Name)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dr)
}

// GetStats handles GET /api/v1/stats
func (h *WeatherHandler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// window reads ?days=N or ?start=&end= into a UTC window. It writes the 400
// response itself and reports false on bad input.
func (h *WeatherHandler) window(c *gin.Context) (time.Time, time.Time, bool) {
	var req dto.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters: " + err.Error()})
		return time.Time{}, time.Time{}, false
	}

	bad := func(msg string) (time.Time, time.Time, bool) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg})
		return time.Time{}, time.Time{}, false
	}

	if !req.Start.IsZero() || !req.End.IsZero() {
		if req.Start.IsZero() || req.End.IsZero() {
			return bad("start and end must be given together")
		}
		if req.End.Before(req.Start) {
			return bad("end must not be before start")
		}
		if h.maxDays > 0 && req.End.Sub(req.Start) > time.Duration(h.maxDays)*24*time.Hour {
			return bad(fmt.Sprintf("window must not exceed %d days", h.maxDays))
		}
		return req.Start.UTC(), req.End.UTC(), true
	}

	days := req.Days
	if days == 0 {
		days = h.defaultDays
	}
	if days < 0 {
		return bad("days must be positive")
	}
	if h.maxDays > 0 && days > h.maxDays {
		return bad(fmt.Sprintf("days must not exceed %d", h.maxDays))
	}

	end := h.now().UTC()
	return end.AddDate(0, 0, -days), end, true
}
