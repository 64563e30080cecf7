// Package metrics defines the Prometheus metric collectors used by the
// search and relevance engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchesTotal        *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	FallbackScansTotal   prometheus.Counter
	DocsIndexedTotal     prometheus.Counter
	DocsRemovedTotal     prometheus.Counter
	IndexedDocuments     prometheus.Gauge
	RebuildsTotal        *prometheus.CounterVec
	RebuildDuration      prometheus.Histogram
	VectorReweightsTotal prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
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
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searches_total",
				Help: "Total search queries by mode (lexical, semantic, related).",
			},
			[]string{"mode"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds by mode.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"mode"},
		),
		FallbackScansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_fallback_scans_total",
				Help: "Lexical queries served by the substring fallback scan.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed, including re-indexes.",
			},
		),
		DocsRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_removed_total",
				Help: "Total documents removed from the indexes.",
			},
		),
		IndexedDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexed_documents",
				Help: "Current number of published documents in the indexes.",
			},
		),
		RebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_rebuilds_total",
				Help: "Full index rebuilds by outcome (ok, failed).",
			},
			[]string{"status"},
		),
		RebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_rebuild_duration_seconds",
				Help:    "Wall-clock time of full index rebuilds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
		),
		VectorReweightsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vector_reweights_total",
				Help: "Full TF-IDF reweight passes triggered by corpus drift.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query-cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query-cache misses.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchesTotal,
		m.SearchLatency,
		m.FallbackScansTotal,
		m.DocsIndexedTotal,
		m.DocsRemovedTotal,
		m.IndexedDocuments,
		m.RebuildsTotal,
		m.RebuildDuration,
		m.VectorReweightsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
