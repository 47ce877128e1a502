package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/weather-pipeline/internal/api/handler"
	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/cuongbtq/weather-pipeline/internal/entity"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(ctx context.Context) error { return s.err }

func newDeps(t *testing.T, health handler.HealthChecker) *handler.Dependencies {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg, err := entity.New([]domain.Entity{{Name: "London", Country: "GB", Latitude: 51.5, Longitude: -0.12}})
	require.NoError(t, err)

	return &handler.Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cities: reg,
		Health: health,
		MCP: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	r := SetupRouter(newDeps(t, stubHealth{}))
	w := serve(r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	r = SetupRouter(newDeps(t, stubHealth{err: errors.New("dial tcp: refused")}))
	w = serve(r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestRoutes(t *testing.T) {
	r := SetupRouter(newDeps(t, nil))

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/cities").Code)
	assert.Equal(t, http.StatusTeapot, serve(r, http.MethodPost, "/mcp").Code)
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodOptions, "/api/v1/cities").Code)

	// job routes need a publisher
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/api/v1/jobs/poll").Code)

	// request counters are visible on the exposition endpoint
	w := serve(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "weather_http_requests_total")
}
