// Package observability exposes the Prometheus metrics surface for the
// queue: per-status job counters, a processing-duration histogram, and a
// queue-depth gauge.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsTotal counts terminal job outcomes by status (completed, failed).
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaqueue_jobs_total",
		Help: "Total number of jobs that reached a terminal status.",
	}, []string{"status"})

	// JobDuration observes processing wall-clock time, startedAt to
	// completedAt, in seconds.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediaqueue_job_duration_seconds",
		Help:    "Duration of job processing from startedAt to completedAt.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// QueueDepth reports the current count of jobs per status.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediaqueue_queue_depth",
		Help: "Current number of jobs in the queue, by status.",
	}, []string{"status"})

	// CircuitBreakerState reports 0=closed, 1=half-open, 2=open per
	// AI provider, mirroring the corpus's circuit-breaker metric pattern.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediaqueue_circuit_breaker_state",
		Help: "Circuit breaker state per AI provider (0=closed, 1=half-open, 2=open).",
	}, []string{"provider"})
)

// Handler returns the standard Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
