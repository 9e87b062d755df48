// Package metrics defines the engine's Prometheus metrics: cache
// traffic per tier, resolution latency and outcomes, audit chain
// growth, and rotation state transitions. A Collector owns the
// registry and exposes the /metrics handler.
package metrics
