package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the decision orchestrator.
type Metrics struct {
	Executions          *prometheus.CounterVec
	CacheHits           *prometheus.CounterVec
	InvariantViolations *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
}

// New creates a Metrics instance with all orchestrator metrics registered.
func New() *Metrics {
	return &Metrics{
		Executions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_bishop_node_executions_total",
			Help: "Total number of node handler executions, by node and status",
		}, []string{"node_id", "status"}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_bishop_cache_hits_total",
			Help: "Total number of node executions served from cache, by node",
		}, []string{"node_id"}),
		InvariantViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_bishop_invariant_violations_total",
			Help: "Total number of declared invariants violated by handler output, by node",
		}, []string{"node_id"}),
		ExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ops_bishop_node_duration_seconds",
			Help:    "Node handler execution duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_id"}),
	}
}

func (m *Metrics) IncrementExecutions(nodeID, status string) {
	m.Executions.WithLabelValues(nodeID, status).Inc()
}

func (m *Metrics) IncrementCacheHits(nodeID string) {
	m.CacheHits.WithLabelValues(nodeID).Inc()
}

func (m *Metrics) IncrementInvariantViolations(nodeID string) {
	m.InvariantViolations.WithLabelValues(nodeID).Inc()
}

func (m *Metrics) ObserveExecutionDuration(nodeID string, seconds float64) {
	m.ExecutionDuration.WithLabelValues(nodeID).Observe(seconds)
}
