// Package metrics exposes prometheus metrics about processed reports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coder/csplistener/audit"
)

// Metrics implements audit.Auditor by counting records.
type Metrics struct {
	reports      *prometheus.CounterVec
	reportErrors *prometheus.CounterVec
	requestBytes prometheus.Histogram
}

// Metric label names.
const (
	LabelAction = "action"
	LabelKind   = "kind"
)

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csplistener",
			Name:      "reports_total",
			Help:      "Total number of CSP reports processed, by decision.",
		}, []string{LabelAction}),
		reportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csplistener",
			Name:      "report_errors_total",
			Help:      "Total number of rejected CSP reports, by rejection kind.",
		}, []string{LabelKind}),
		requestBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "csplistener",
			Name:      "request_body_bytes",
			Help:      "Size of CSP report request bodies.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 12),
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.reports, m.reportErrors, m.requestBytes} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	// Make sure both decisions show up before the first report arrives.
	m.reports.WithLabelValues(string(audit.Allowed))
	m.reports.WithLabelValues(string(audit.Blocked))

	return m, nil
}

// AuditReport records the outcome of a report.
func (m *Metrics) AuditReport(rec audit.Record) {
	m.reports.WithLabelValues(string(rec.Decision)).Inc()
	m.requestBytes.Observe(float64(rec.BytesIn))
}

// RecordError counts a rejection of the given kind.
func (m *Metrics) RecordError(kind string) {
	m.reportErrors.WithLabelValues(kind).Inc()
}
