// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	KwicWindowsTotal   prometheus.Counter
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	LemgramLookups     *prometheus.CounterVec

	DocsParsedTotal      *prometheus.CounterVec
	TokensParsedTotal    prometheus.Counter
	ParseFailuresTotal   *prometheus.CounterVec
	BatchesUploadedTotal *prometheus.CounterVec
	BatchUploadBytes     prometheus.Histogram
	PipelineQueueDepth   prometheus.Gauge

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by outcome (hit, zero_result, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"cache_status"},
		),
		KwicWindowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kwic_windows_total",
				Help: "Total KWIC highlight windows assembled.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
		LemgramLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lemgram_lookups_total",
				Help: "Lemmatizer lookups by result (expanded, word_fallback, error).",
			},
			[]string{"result"},
		),
		DocsParsedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_parsed_total",
				Help: "Documents parsed per corpus.",
			},
			[]string{"corpus"},
		),
		TokensParsedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokens_parsed_total",
				Help: "Total tokens parsed across all pipeline runs.",
			},
		),
		ParseFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parse_failures_total",
				Help: "Source files that failed to parse, per corpus.",
			},
			[]string{"corpus"},
		),
		BatchesUploadedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batches_uploaded_total",
				Help: "Bulk upload batches by status (ok, failed).",
			},
			[]string{"status"},
		),
		BatchUploadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batch_upload_bytes",
				Help:    "Estimated payload size of uploaded batches in bytes.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
		PipelineQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_queue_depth",
				Help: "Parsed-file results waiting in the pipeline queue.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.KwicWindowsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.LemgramLookups,
		m.DocsParsedTotal,
		m.TokensParsedTotal,
		m.ParseFailuresTotal,
		m.BatchesUploadedTotal,
		m.BatchUploadBytes,
		m.PipelineQueueDepth,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
