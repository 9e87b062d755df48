package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "vesta"

// Collector owns the Prometheus registry and all metric groups.
type Collector struct {
	registry *prometheus.Registry

	Cache    *CacheMetrics
	Resolver *ResolverMetrics
	Audit    *AuditMetrics
	Rotation *RotationMetrics
}

// NewCollector creates a registry with the engine's metric groups plus
// the standard Go runtime and process collectors.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry: registry,
		Cache:    newCacheMetrics(registry),
		Resolver: newResolverMetrics(registry),
		Audit:    newAuditMetrics(registry),
		Rotation: newRotationMetrics(registry),
	}
}

// Registry exposes the underlying registry for custom registrations.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
