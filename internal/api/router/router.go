package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/api/handler"
	"github.com/cuongbtq/weather-pipeline/internal/metrics"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps.Health))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Streamable HTTP transport for agent tools
	if deps.MCP != nil {
		r.Any("/mcp", gin.WrapH(deps.MCP))
	}

	weatherHandler := handler.NewWeatherHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/cities", weatherHandler.ListCities)
		v1.GET("/stats", weatherHandler.GetStats)

		weather := v1.Group("/weather/:city")
		{
			// GET /api/v1/weather/:city/latest - Current conditions, live fallback when stale
			weather.GET("/latest", weatherHandler.GetLatest)

			// GET /api/v1/weather/:city/history?days=N | ?start=&end=
			weather.GET("/history", weatherHandler.GetHistory)

			// GET /api/v1/weather/:city/observations?start=&end=
			weather.GET("/observations", weatherHandler.GetObservations)

			// GET /api/v1/weather/:city/range - Stored data bounds
			weather.GET("/range", weatherHandler.GetDataRange)
		}

		if deps.Publisher != nil {
			jobs := v1.Group("/jobs")
			{
				// POST /api/v1/jobs/poll - Queue a poll_current run
				jobs.POST("/poll", jobHandler.TriggerPoll)

				// POST /api/v1/jobs/backfill - Queue a backfill_history run
				jobs.POST("/backfill", jobHandler.TriggerBackfill)

				jobs.GET("/runs", jobHandler.ListRuns)
				jobs.GET("/runs/:run_id", jobHandler.GetRun)
			}
		}
	}

	return r
}

func healthHandler(checker handler.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()

			if err := checker.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":   "unhealthy",
					"service":  "weather-api-service",
					"database": err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "weather-api-service",
		})
	}
}
