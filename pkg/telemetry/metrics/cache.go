package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics tracks cache traffic. It implements the cache
// package's Observer interface.
//
// Metrics:
//   - vesta_cache_hits_total: hits by tier
//   - vesta_cache_misses_total: full-stack misses
//   - vesta_cache_invalidations_total: invalidation broadcasts
type CacheMetrics struct {
	hitsTotal          *prometheus.CounterVec
	missesTotal        prometheus.Counter
	invalidationsTotal prometheus.Counter
}

func newCacheMetrics(registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		hitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits by tier",
			},
			[]string{"tier"},
		),
		missesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of lookups that missed every tier",
			},
		),
		invalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Total number of invalidation broadcasts",
			},
		),
	}

	registry.MustRegister(cm.hitsTotal, cm.missesTotal, cm.invalidationsTotal)
	return cm
}

// Hit records a hit at the named tier.
func (cm *CacheMetrics) Hit(tier string) { cm.hitsTotal.WithLabelValues(tier).Inc() }

// Miss records a lookup that missed every tier.
func (cm *CacheMetrics) Miss() { cm.missesTotal.Inc() }

// Invalidation records an invalidation broadcast.
func (cm *CacheMetrics) Invalidation() { cm.invalidationsTotal.Inc() }
