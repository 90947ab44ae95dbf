// Package metrics defines the Prometheus collectors used by the retrieval
// core and exposes an HTTP handler for scraping. All recording methods are
// safe to call on a nil *Metrics so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the retrieval core.
type Metrics struct {
	SearchQueriesTotal       *prometheus.CounterVec
	SearchStageLatency       *prometheus.HistogramVec
	SearchResultsCount       prometheus.Histogram
	SemanticDegradations     *prometheus.CounterVec
	CacheHitsTotal           *prometheus.CounterVec
	CacheMissesTotal         prometheus.Counter
	CacheEvictionsTotal      *prometheus.CounterVec
	CacheRejectionsTotal     *prometheus.CounterVec
	InvalidationsTotal       *prometheus.CounterVec
	InvalidationQueueDepth   prometheus.Gauge
	InvalidationRulesSkipped prometheus.Counter
	IndexedDocuments         prometheus.Gauge
	IndexMutationsTotal      *prometheus.CounterVec
	CircuitBreakerState      *prometheus.GaugeVec
	HTTPRequestsTotal        *prometheus.CounterVec
	HTTPRequestDuration      *prometheus.HistogramVec
	HTTPRequestsInFlight     prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses the
// process-wide default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search calls by requested mode and effective mode.",
			},
			[]string{"mode", "effective_mode"},
		),
		SearchStageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_stage_latency_seconds",
				Help:    "Latency of each search pipeline stage in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"stage"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search call.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		SemanticDegradations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_semantic_degradations_total",
				Help: "Hybrid or semantic calls that fell back to lexical-only, by cause.",
			},
			[]string{"cause"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits by tier.",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of lookups that missed every tier.",
			},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_evictions_total",
				Help: "Entries removed from a tier by cause (lru, expired).",
			},
			[]string{"tier", "cause"},
		),
		CacheRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_rejections_total",
				Help: "Writes refused by a tier, by reason.",
			},
			[]string{"tier", "reason"},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_invalidations_total",
				Help: "Cache keys invalidated by reason.",
			},
			[]string{"reason"},
		),
		InvalidationQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "invalidation_queue_depth",
				Help: "Mutation events waiting for the invalidation worker.",
			},
		),
		InvalidationRulesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "invalidation_rules_skipped_total",
				Help: "Rules skipped because their key template could not be resolved.",
			},
		),
		IndexedDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lexical_indexed_documents",
				Help: "Documents currently held by the lexical index.",
			},
		),
		IndexMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexical_index_mutations_total",
				Help: "Lexical index mutations by operation and status.",
			},
			[]string{"op", "status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
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
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being served.",
			},
		),
	}

	reg.MustRegister(
		m.SearchQueriesTotal,
		m.SearchStageLatency,
		m.SearchResultsCount,
		m.SemanticDegradations,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheRejectionsTotal,
		m.InvalidationsTotal,
		m.InvalidationQueueDepth,
		m.InvalidationRulesSkipped,
		m.IndexedDocuments,
		m.IndexMutationsTotal,
		m.CircuitBreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchStageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RecordSearch(mode, effectiveMode string, results int) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(mode, effectiveMode).Inc()
	m.SearchResultsCount.Observe(float64(results))
}

func (m *Metrics) RecordDegradation(cause string) {
	if m == nil {
		return
	}
	m.SemanticDegradations.WithLabelValues(cause).Inc()
}

func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) RecordEviction(tier, cause string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(tier, cause).Add(float64(n))
}

func (m *Metrics) RecordRejection(tier, reason string) {
	if m == nil {
		return
	}
	m.CacheRejectionsTotal.WithLabelValues(tier, reason).Inc()
}

func (m *Metrics) RecordInvalidation(reason string) {
	if m == nil {
		return
	}
	m.InvalidationsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.InvalidationQueueDepth.Set(float64(n))
}

func (m *Metrics) RecordSkippedRule() {
	if m == nil {
		return
	}
	m.InvalidationRulesSkipped.Inc()
}

func (m *Metrics) RecordIndexMutation(op, status string, docs int) {
	if m == nil {
		return
	}
	m.IndexMutationsTotal.WithLabelValues(op, status).Inc()
	m.IndexedDocuments.Set(float64(docs))
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
