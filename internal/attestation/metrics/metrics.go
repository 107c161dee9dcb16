package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the attestation module.
type Metrics struct {
	Issued        *prometheus.CounterVec
	Rejected      *prometheus.CounterVec
	Verifications *prometheus.CounterVec
}

// New creates a Metrics instance with all attestation metrics registered.
func New() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_attestations_issued_total",
			Help: "Total number of attestations issued, by type",
		}, []string{"type"}),
		Rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_attestations_rejected_total",
			Help: "Total number of rejected attestation requests, by first failed check",
		}, []string{"failed_check"}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_attestation_verifications_total",
			Help: "Total number of verification attempts, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementIssued(attestationType string) {
	m.Issued.WithLabelValues(attestationType).Inc()
}

func (m *Metrics) IncrementRejected(failedCheck string) {
	m.Rejected.WithLabelValues(failedCheck).Inc()
}

func (m *Metrics) IncrementVerifications(result string) {
	m.Verifications.WithLabelValues(result).Inc()
}
