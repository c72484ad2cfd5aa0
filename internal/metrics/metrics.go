// Package metrics provides Prometheus metrics for the pair tracker.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pair_tracker"

// Metrics holds all Prometheus collectors for the application.
type Metrics struct {
	// Explorer metrics
	ExplorerCalls   *prometheus.CounterVec
	ExplorerLatency *prometheus.HistogramVec

	// Lookup metrics
	Lookups        *prometheus.CounterVec
	RowsInserted   *prometheus.CounterVec
	LiveSyncRuns   *prometheus.CounterVec
	LastLiveSyncAt prometheus.Gauge

	// Price feed metrics
	PriceFetches *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance registered with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExplorerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "explorer",
			Name:      "calls_total",
			Help:      "Explorer API calls by action and lookup status",
		}, []string{"action", "status"}),
		ExplorerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "explorer",
			Name:      "call_duration_seconds",
			Help:      "Explorer API call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "requests_total",
			Help:      "Transaction lookups by intent and the source that answered",
		}, []string{"intent", "source"}),
		RowsInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "rows_inserted_total",
			Help:      "Transfer rows newly persisted, by origin",
		}, []string{"origin"}),
		LiveSyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live_sync",
			Name:      "runs_total",
			Help:      "Live sync ticks by outcome",
		}, []string{"outcome"}),
		LastLiveSyncAt: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live_sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful live sync",
		}),
		PriceFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "fetches_total",
			Help:      "Price feed fetches by source and outcome",
		}, []string{"source", "outcome"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// RecordExplorerCall records one explorer call and its latency.
func RecordExplorerCall(action, status string, seconds float64) {
	DefaultMetrics.ExplorerCalls.WithLabelValues(action, status).Inc()
	DefaultMetrics.ExplorerLatency.WithLabelValues(action).Observe(seconds)
}

// RecordLookup records which source answered a lookup.
func RecordLookup(intent, source string) {
	DefaultMetrics.Lookups.WithLabelValues(intent, source).Inc()
}

// RecordRowsInserted adds newly persisted rows.
func RecordRowsInserted(origin string, n int64) {
	if n <= 0 {
		return
	}
	DefaultMetrics.RowsInserted.WithLabelValues(origin).Add(float64(n))
}

// RecordLiveSync records the outcome of a live sync tick.
func RecordLiveSync(outcome string, unixSeconds int64) {
	DefaultMetrics.LiveSyncRuns.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		DefaultMetrics.LastLiveSyncAt.Set(float64(unixSeconds))
	}
}

// RecordPriceFetch records a price feed fetch.
func RecordPriceFetch(source, outcome string) {
	DefaultMetrics.PriceFetches.WithLabelValues(source, outcome).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(route string, code int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	DefaultMetrics.HTTPLatency.WithLabelValues(route).Observe(seconds)
}
