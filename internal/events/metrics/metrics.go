package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the event log module.
type Metrics struct {
	Appended           *prometheus.CounterVec
	AppendConflicts    prometheus.Counter
	ChainVerifications *prometheus.CounterVec
	Synced             prometheus.Counter
}

// New creates a Metrics instance with all event log metrics registered.
func New() *Metrics {
	return &Metrics{
		Appended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_events_appended_total",
			Help: "Total number of events appended, by event type",
		}, []string{"event_type"}),
		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ops_events_append_conflicts_total",
			Help: "Total number of optimistic-concurrency retries during append",
		}),
		ChainVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_events_chain_verifications_total",
			Help: "Total number of chain verification passes, by result",
		}, []string{"status"}),
		Synced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ops_events_ledger_synced_total",
			Help: "Total number of events marked as synced to the ledger",
		}),
	}
}

func (m *Metrics) IncrementAppended(eventType string) {
	m.Appended.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementAppendConflict() {
	m.AppendConflicts.Inc()
}

func (m *Metrics) IncrementChainVerification(status string) {
	m.ChainVerifications.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementSynced() {
	m.Synced.Inc()
}
