package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger write-through worker.
type Metrics struct {
	Synced        *prometheus.CounterVec
	BatchDuration prometheus.Histogram
}

// New creates a Metrics instance with all ledger sync metrics registered.
func New() *Metrics {
	return &Metrics{
		Synced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_ledger_sync_total",
			Help: "Total number of sync attempts, by outcome",
		}, []string{"status"}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ops_ledger_sync_batch_duration_seconds",
			Help:    "Time spent draining one batch of unsynced events",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncrementSynced(status string) {
	m.Synced.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveBatchDuration(d time.Duration) {
	m.BatchDuration.Observe(d.Seconds())
}
