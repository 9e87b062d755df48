package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ResolverMetrics tracks configuration resolution and mutation.
//
// Metrics:
//   - vesta_resolves_total: resolutions by result
//   - vesta_resolve_duration_seconds: resolution latency
//   - vesta_writes_total: version appends by change type
type ResolverMetrics struct {
	resolvesTotal   *prometheus.CounterVec
	resolveDuration prometheus.Histogram
	writesTotal     *prometheus.CounterVec
}

func newResolverMetrics(registry *prometheus.Registry) *ResolverMetrics {
	rm := &ResolverMetrics{
		resolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolves_total",
				Help:      "Total number of resolutions by result",
			},
			[]string{"result"},
		),
		resolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Resolution latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
		),
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writes_total",
				Help:      "Total number of version appends by change type",
			},
			[]string{"change_type"},
		),
	}

	registry.MustRegister(rm.resolvesTotal, rm.resolveDuration, rm.writesTotal)
	return rm
}

// ObserveResolve records one resolution.
func (rm *ResolverMetrics) ObserveResolve(result string, elapsed time.Duration) {
	rm.resolvesTotal.WithLabelValues(result).Inc()
	rm.resolveDuration.Observe(elapsed.Seconds())
}

// RecordWrite records one version append.
func (rm *ResolverMetrics) RecordWrite(changeType string) {
	rm.writesTotal.WithLabelValues(changeType).Inc()
}
