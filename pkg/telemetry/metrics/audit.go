package metrics

import "github.com/prometheus/client_golang/prometheus"

// AuditMetrics tracks audit chain growth.
//
// Metrics:
//   - vesta_audit_records_total: appended records by event type
//   - vesta_audit_chain_length: current chain length
type AuditMetrics struct {
	recordsTotal *prometheus.CounterVec
	chainLength  prometheus.Gauge
}

func newAuditMetrics(registry *prometheus.Registry) *AuditMetrics {
	am := &AuditMetrics{
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_records_total",
				Help:      "Total number of audit records appended by event type",
			},
			[]string{"type"},
		),
		chainLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "audit_chain_length",
				Help:      "Number of records in the audit chain",
			},
		),
	}

	registry.MustRegister(am.recordsTotal, am.chainLength)
	return am
}

// RecordAppended records one appended audit record.
func (am *AuditMetrics) RecordAppended(eventType string) {
	am.recordsTotal.WithLabelValues(eventType).Inc()
	am.chainLength.Inc()
}

// SetChainLength sets the chain length gauge, used at startup to
// account for records appended by earlier runs.
func (am *AuditMetrics) SetChainLength(n float64) {
	am.chainLength.Set(n)
}
