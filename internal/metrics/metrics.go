package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides convenience methods for recording metrics.
// Each collector owns its registry so several can coexist in one process.
// A nil *Collector records nothing.
type Collector struct {
	logger   *slog.Logger
	registry *prometheus.Registry

	statusQueries    *prometheus.CounterVec
	pollWait         prometheus.Histogram
	retryAttempts    *prometheus.CounterVec
	watchdogFirings  *prometheus.CounterVec
	groupDuration    *prometheus.HistogramVec
	jobOutcomes      *prometheus.CounterVec
	rateLimiterWait  *prometheus.HistogramVec
	operationLatency *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		logger:   logger,
		registry: reg,
		statusQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previz_status_queries_total",
				Help: "Provider status queries by outcome",
			},
			[]string{"outcome"}, // "ok", "swallowed", "surfaced"
		),
		pollWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "previz_poll_wait_seconds",
				Help:    "Wait before each status query",
				Buckets: prometheus.LinearBuckets(0.5, 0.5, 12), // 0.5s to 6s
			},
		),
		retryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previz_retry_attempts_total",
				Help: "Whole-operation attempts by outcome",
			},
			[]string{"outcome"}, // "success", "retryable", "fatal", "canceled"
		),
		watchdogFirings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previz_watchdog_firings_total",
				Help: "Watchdog firings by kind",
			},
			[]string{"kind"}, // "stall", "hard_timeout"
		),
		groupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "previz_batch_group_duration_seconds",
				Help:    "Batch group duration by result",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
			},
			[]string{"status"},
		),
		jobOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previz_jobs_total",
				Help: "Polled jobs by final status",
			},
			[]string{"status"},
		),
		rateLimiterWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "previz_rate_limiter_wait_duration_seconds",
				Help:    "Rate limiter wait duration in seconds by model",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
			[]string{"model"},
		),
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "previz_operation_duration_seconds",
				Help:    "Public operation duration by kind and status",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"operation", "status"},
		),
	}
}

// RecordStatusQuery counts one status query
func (c *Collector) RecordStatusQuery(outcome string) {
	if c == nil {
		return
	}
	c.statusQueries.WithLabelValues(outcome).Inc()
}

// RecordPollWait records the wait before a status query
func (c *Collector) RecordPollWait(d time.Duration) {
	if c == nil {
		return
	}
	c.pollWait.Observe(d.Seconds())
}

// RecordAttempt counts one retry-coordinator attempt
func (c *Collector) RecordAttempt(outcome string) {
	if c == nil {
		return
	}
	c.retryAttempts.WithLabelValues(outcome).Inc()
}

// RecordWatchdog counts a watchdog firing
func (c *Collector) RecordWatchdog(kind string) {
	if c == nil {
		return
	}
	c.watchdogFirings.WithLabelValues(kind).Inc()
}

// RecordGroup records a batch group duration
func (c *Collector) RecordGroup(duration time.Duration, success bool) {
	if c == nil {
		return
	}
	c.groupDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

// RecordJob counts a job reaching its final status
func (c *Collector) RecordJob(status string) {
	if c == nil {
		return
	}
	c.jobOutcomes.WithLabelValues(status).Inc()
}

// RecordRateLimiterWait records rate limiter wait time
func (c *Collector) RecordRateLimiterWait(model string, duration time.Duration) {
	if c == nil {
		return
	}
	c.rateLimiterWait.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordOperation records a public operation duration
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	c.operationLatency.WithLabelValues(operation, statusLabel(success)).Observe(duration.Seconds())
}

// Gatherer exposes the registry for tests and custom exporters
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the server fails
func (c *Collector) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	c.logger.Info("Serving metrics", "addr", addr, "path", "/metrics")
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
