package bishop

import (
	"proveniq-ops/internal/bishop/service"
)

// Orchestrator is the DAG-driven decision execution engine.
type Orchestrator = service.Orchestrator

// DAG is a validated node declaration set.
type DAG = service.DAG

// Handler is a node's runtime implementation.
type Handler = service.Handler

// TraceRecorder receives execution records for the audit trail.
type TraceRecorder = service.TraceRecorder

// DAGValidationError reports a broken declaration or handler mismatch.
type DAGValidationError = service.DAGValidationError

// MissingDependencyError reports execution before upstream outputs exist.
type MissingDependencyError = service.MissingDependencyError

// InvariantViolationError reports output that breaks a declared invariant.
type InvariantViolationError = service.InvariantViolationError

// ErrNodeNotRegistered signals execution of a node with no handler.
var ErrNodeNotRegistered = service.ErrNodeNotRegistered

// Option configures the orchestrator.
type Option = service.Option

var (
	WithLogger        = service.WithLogger
	WithMetrics       = service.WithMetrics
	WithTraceRecorder = service.WithTraceRecorder
	WithClock         = service.WithClock
)

// LoadDAG reads and validates a YAML declaration file.
func LoadDAG(path string) (*DAG, error) {
	return service.LoadDAG(path)
}

// ParseDAG parses and validates a YAML declaration.
func ParseDAG(raw []byte) (*DAG, error) {
	return service.ParseDAG(raw)
}

// New constructs an orchestrator over a validated DAG.
func New(dag *DAG, opts ...Option) *Orchestrator {
	return service.NewOrchestrator(dag, opts...)
}
