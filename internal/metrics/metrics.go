// Package metrics exposes Prometheus instruments for ingestion and resolution.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_job_runs_total",
		Help: "Job runs by job name and terminal status",
	}, []string{"job", "status"})

	jobRunsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_job_runs_skipped_total",
		Help: "Job invocations skipped because the same job was already running",
	}, []string{"job"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weather_job_duration_seconds",
		Help:    "Wall time of a job run",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"job"})

	recordsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_records_written_total",
		Help: "Observations upserted by job and outcome (inserted, updated)",
	}, []string{"job", "result"})

	recordsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_records_dropped_total",
		Help: "Upstream records rejected by normalization",
	}, []string{"job"})

	entityFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_entity_failures_total",
		Help: "Per-city failures inside a job run",
	}, []string{"job"})

	resolverRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_resolver_requests_total",
		Help: "Resolver queries by operation and outcome",
	}, []string{"op", "outcome"})

	triggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_job_triggers_total",
		Help: "Operator job triggers consumed by outcome",
	}, []string{"outcome"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weather_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// RunOutcome is what a job run reports to the metrics layer
type RunOutcome struct {
	Job             string
	Status          string
	DurationSeconds float64
	Inserted        int
	Updated         int
	Dropped         int
	Failed          int
}

// ObserveJobRun records a finished run
func ObserveJobRun(o RunOutcome) {
	jobRunsTotal.WithLabelValues(o.Job, o.Status).Inc()
	jobDuration.WithLabelValues(o.Job).Observe(o.DurationSeconds)
	recordsWrittenTotal.WithLabelValues(o.Job, "inserted").Add(float64(o.Inserted))
	recordsWrittenTotal.WithLabelValues(o.Job, "updated").Add(float64(o.Updated))
	recordsDroppedTotal.WithLabelValues(o.Job).Add(float64(o.Dropped))
	entityFailuresTotal.WithLabelValues(o.Job).Add(float64(o.Failed))
}

// IncJobSkipped counts an invocation rejected by per-job mutual exclusion
func IncJobSkipped(job string) {
	jobRunsSkippedTotal.WithLabelValues(job).Inc()
}

// IncResolverRequest counts a resolver query. Outcomes: fresh, fallback,
// complete, insufficient, error.
func IncResolverRequest(op, outcome string) {
	resolverRequestsTotal.WithLabelValues(op, outcome).Inc()
}

// IncTrigger counts a consumed trigger message. Outcomes: ran, skipped, rejected, failed.
func IncTrigger(outcome string) {
	triggersTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records one served request. route is the matched
// pattern, not the raw path, to keep label cardinality bounded.
func ObserveHTTPRequest(method, route string, status int, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
