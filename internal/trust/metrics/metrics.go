package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the trust tier module.
type Metrics struct {
	Calculations *prometheus.CounterVec
	TierChanges  *prometheus.CounterVec
}

// New creates a Metrics instance with all trust tier metrics registered.
func New() *Metrics {
	return &Metrics{
		Calculations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_trust_tier_calculations_total",
			Help: "Total number of tier calculations, by resulting tier",
		}, []string{"tier"}),
		TierChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_trust_tier_changes_total",
			Help: "Total number of tier history entries, by change type",
		}, []string{"change_type"}),
	}
}

func (m *Metrics) IncrementCalculations(tier string) {
	m.Calculations.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncrementTierChanges(changeType string) {
	m.TierChanges.WithLabelValues(changeType).Inc()
}
