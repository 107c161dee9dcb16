// Package models defines the static DAG declaration and runtime execution
// records for the decision orchestrator. The declaration is the governance
// contract: handlers must conform to it, never the other way around.
package models

import (
	"time"

	"github.com/google/uuid"
)

// NodeStatus is the observable execution state of a DAG node.
type NodeStatus string

const (
	StatusReady     NodeStatus = "ready"
	StatusBlocked   NodeStatus = "blocked"
	StatusRunning   NodeStatus = "running"
	StatusCompleted NodeStatus = "completed"
	StatusStale     NodeStatus = "stale"
	StatusFailed    NodeStatus = "failed"
)

// Op is a comparison operator usable in invariant conditions.
type Op string

const (
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpLt Op = "lt"
	OpLe Op = "le"
	OpGt Op = "gt"
	OpGe Op = "ge"
)

// Condition compares an output field against a literal value or, via
// FieldRef, against another output field.
type Condition struct {
	Field    string `yaml:"field" json:"field"`
	Op       Op     `yaml:"op" json:"op"`
	Value    any    `yaml:"value,omitempty" json:"value,omitempty"`
	FieldRef string `yaml:"field_ref,omitempty" json:"field_ref,omitempty"`
}

// Invariant is a structured implication over a node's output: whenever If
// holds, Then must hold too.
type Invariant struct {
	If   Condition `yaml:"if" json:"if"`
	Then Condition `yaml:"then" json:"then"`
}

// NodeDefinition is one node of the declared DAG.
type NodeDefinition struct {
	NodeID      string      `yaml:"-" json:"node_id"`
	Layer       int         `yaml:"layer" json:"layer"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	DependsOn   []string    `yaml:"depends_on" json:"depends_on"`
	Inputs      []string    `yaml:"inputs" json:"inputs"`
	Outputs     []string    `yaml:"outputs" json:"outputs"`
	SideEffects []string    `yaml:"side_effects" json:"side_effects"`
	Cacheable   bool        `yaml:"cacheable" json:"cacheable"`
	TTLSeconds  int         `yaml:"ttl_seconds" json:"ttl_seconds"`
	Invariants  []Invariant `yaml:"invariants" json:"invariants"`
}

// HasSideEffects reports whether the node declares any side effect. The
// literal "none" is treated as no declaration.
func (n *NodeDefinition) HasSideEffects() bool {
	for _, effect := range n.SideEffects {
		if effect != "" && effect != "none" {
			return true
		}
	}
	return false
}

// Document is the parsed DAG declaration file.
type Document struct {
	Name        string                    `yaml:"name"`
	Description string                    `yaml:"description"`
	Nodes       map[string]NodeDefinition `yaml:"nodes"`
}

// ExecutionRecord is one execution attempt, successful or not.
type ExecutionRecord struct {
	ExecutionID uuid.UUID  `json:"execution_id"`
	NodeID      string     `json:"node_id"`
	Status      NodeStatus `json:"status"`
	ContextHash string     `json:"context_hash"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
	DurationMs  int64      `json:"duration_ms"`
	CacheHit    bool       `json:"cache_hit"`
	Error       string     `json:"error,omitempty"`
}

// Health summarizes the DAG's runtime state.
type Health struct {
	Healthy          bool                  `json:"healthy"`
	NodesTotal       int                   `json:"nodes_total"`
	NodesCompleted   int                   `json:"nodes_completed"`
	NodesStale       int                   `json:"nodes_stale"`
	NodesBlocked     int                   `json:"nodes_blocked"`
	NodesFailed      int                   `json:"nodes_failed"`
	CacheSize        int                   `json:"cache_size"`
	ExecutionLogSize int                   `json:"execution_log_size"`
	Statuses         map[string]NodeStatus `json:"statuses"`
}
