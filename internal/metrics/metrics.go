// Package metrics provides Prometheus instrumentation for the Flare
// server: assessment counts and latency, oracle cache effectiveness, and
// HTTP request durations. All collectors live on a dedicated registry so
// tests can instantiate the package repeatedly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors.
type Metrics struct {
	registry *prometheus.Registry

	assessments     *prometheus.CounterVec
	assessDuration  prometheus.Histogram
	oracleCacheHits prometheus.Counter
	oracleCacheMiss prometheus.Counter
	httpDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flare_assessments_total",
			Help: "Completed risk assessments by resulting risk level.",
		}, []string{"risk_level"}),
		assessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flare_assessment_duration_seconds",
			Help:    "Wall-clock duration of a full assessment.",
			Buckets: prometheus.DefBuckets,
		}),
		oracleCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flare_oracle_cache_hits_total",
			Help: "OSV cache hits.",
		}),
		oracleCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flare_oracle_cache_misses_total",
			Help: "OSV cache misses.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flare_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		m.assessments,
		m.assessDuration,
		m.oracleCacheHits,
		m.oracleCacheMiss,
		m.httpDuration,
	)
	return m
}

// Registry exposes the registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAssessment records one completed assessment.
func (m *Metrics) ObserveAssessment(riskLevel string, duration time.Duration) {
	m.assessments.WithLabelValues(riskLevel).Inc()
	m.assessDuration.Observe(duration.Seconds())
}

// CacheHit implements osv.CacheMetrics.
func (m *Metrics) CacheHit() { m.oracleCacheHits.Inc() }

// CacheMiss implements osv.CacheMetrics.
func (m *Metrics) CacheMiss() { m.oracleCacheMiss.Inc() }

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(route, code string, duration time.Duration) {
	m.httpDuration.WithLabelValues(route, code).Observe(duration.Seconds())
}
