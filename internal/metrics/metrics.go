// Package metrics exposes the counters engine's per-fact Prometheus
// metrics: how many counters a fact contributed to, how many it
// perturbed, and how long matching took.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors one counter producer call site records
// against. It is injected into callers rather than registered as a
// process-wide singleton.
type Metrics struct {
	Contributing prometheus.Histogram
	Affected     prometheus.Histogram
	Duration     prometheus.Histogram
	Errors       *prometheus.CounterVec
}

// New builds a Metrics registered against reg. Passing a fresh
// prometheus.NewRegistry() keeps multiple producers (e.g. one per
// worker) independently mergeable via Merge.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Contributing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "counters_contributing_count",
			Help:    "Number of counters a fact contributed to.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
		Affected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "counters_affected_count",
			Help:    "Number of counters a fact perturbed.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "counters_fact_match_duration_seconds",
			Help:    "Time spent matching a single fact against the counter catalogue.",
			Buckets: prometheus.DefBuckets,
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counters_errors_total",
			Help: "Count of per-fact errors encountered, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.Contributing, m.Affected, m.Duration, m.Errors)
	return m
}

// ObserveFact records the outcome of one fact_counters call.
func (m *Metrics) ObserveFact(contributing, affected int, elapsed time.Duration) {
	m.Contributing.Observe(float64(contributing))
	m.Affected.Observe(float64(affected))
	m.Duration.Observe(elapsed.Seconds())
}

// ObserveError increments the error counter for reason (e.g. "parse_fact",
// "save_fact").
func (m *Metrics) ObserveError(reason string) {
	m.Errors.WithLabelValues(reason).Inc()
}
