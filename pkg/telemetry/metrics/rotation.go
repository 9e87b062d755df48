package metrics

import "github.com/prometheus/client_golang/prometheus"

// RotationMetrics tracks secret rotation state transitions.
//
// Metrics:
//   - vesta_rotation_transitions_total: transitions by target state
//   - vesta_rotations_in_flight: rotations currently between
//     scheduled and a terminal state
type RotationMetrics struct {
	transitionsTotal *prometheus.CounterVec
	inFlight         prometheus.Gauge
}

func newRotationMetrics(registry *prometheus.Registry) *RotationMetrics {
	rm := &RotationMetrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rotation_transitions_total",
				Help:      "Total number of rotation state transitions by target state",
			},
			[]string{"state"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rotations_in_flight",
				Help:      "Number of rotations currently in progress",
			},
		),
	}

	registry.MustRegister(rm.transitionsTotal, rm.inFlight)
	return rm
}

// RecordTransition records one state transition. Terminal states also
// decrement the in-flight gauge.
func (rm *RotationMetrics) RecordTransition(state string, terminal bool) {
	rm.transitionsTotal.WithLabelValues(state).Inc()
	if terminal {
		rm.inFlight.Dec()
	}
}

// RotationStarted increments the in-flight gauge.
func (rm *RotationMetrics) RotationStarted() { rm.inFlight.Inc() }
