// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	changesTotal               *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	batchRunsTotal             *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_fetches_total",
				Help: "Total number of source fetches, labeled by source and outcome.",
			},
			[]string{"source_id", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policywatch_fetch_duration_seconds",
				Help:    "Histogram of source fetch latencies, labeled by source.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source_id"},
		)

		changesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_changes_total",
				Help: "Total number of detected policy changes, labeled by source and kind.",
			},
			[]string{"source_id", "kind"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_notifications_total",
				Help: "Total number of notification sends, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "policywatch_active_workers",
				Help: "Number of workers currently processing a source.",
			},
		)

		batchRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_batch_runs_total",
				Help: "Total number of scheduler batch runs, labeled by status.",
			},
			[]string{"status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt for a source.
func ObserveFetch(sourceID, outcome string, duration time.Duration) {
	fetchesTotal.WithLabelValues(sourceID, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(sourceID).Observe(duration.Seconds())
}

// ObserveChange increments the change counter for the given kind.
func ObserveChange(sourceID, kind string) {
	changesTotal.WithLabelValues(sourceID, kind).Inc()
}

// ObserveNotifications records notification fan-out results.
func ObserveNotifications(sent, failed int) {
	if sent > 0 {
		notificationsTotal.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		notificationsTotal.WithLabelValues("failed").Add(float64(failed))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveBatchRun increments the batch run counter for the given status.
func ObserveBatchRun(status string) {
	batchRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
