// Package models defines the immutable audit record kinds for the decision
// governance trail. Records are append-only; the only sanctioned late-bound
// fields are an override's outcome and a block's resolution.
package models

import (
	"time"

	"github.com/google/uuid"

	id "proveniq-ops/pkg/domain"
)

// ProposalEventType classifies a proposal record.
type ProposalEventType string

const (
	ProposalGenerated ProposalEventType = "proposal_generated"
	ProposalApproved  ProposalEventType = "proposal_approved"
	ProposalRejected  ProposalEventType = "proposal_rejected"
	ProposalModified  ProposalEventType = "proposal_modified"
)

// DecisionEventType maps a human decision verb to its record type.
func DecisionEventType(decision string) ProposalEventType {
	switch decision {
	case "rejected":
		return ProposalRejected
	case "modified":
		return ProposalModified
	default:
		return ProposalApproved
	}
}

// ProposalRecord captures what the decision engine proposed and, on decision
// records, what a human did with it.
type ProposalRecord struct {
	LogID          uuid.UUID         `json:"log_id"`
	EventType      ProposalEventType `json:"event_type"`
	TraceID        id.TraceID        `json:"trace_id"`
	ParentTraceID  *id.TraceID       `json:"parent_trace_id,omitempty"`
	ProposalID     uuid.UUID         `json:"proposal_id"`
	ProposalType   string            `json:"proposal_type"`
	DAGNodeID      string            `json:"dag_node_id"`
	Recommendation map[string]any    `json:"recommendation"`
	Confidence     float64           `json:"confidence"`
	ReasonCodes    []string          `json:"reason_codes"`

	HumanDecision    string         `json:"human_decision,omitempty"`
	HumanUserID      id.UserID      `json:"human_user_id,omitempty"`
	HumanReasonCodes []string       `json:"human_reason_codes,omitempty"`
	HumanNotes       string         `json:"human_notes,omitempty"`
	FinalAction      map[string]any `json:"final_action,omitempty"`

	LoggedAt time.Time `json:"logged_at"`
}

// OverrideRecord captures a human overriding the engine's recommendation:
// what the engine said, what the human chose, and eventually whether the
// human was right.
type OverrideRecord struct {
	LogID        uuid.UUID  `json:"log_id"`
	TraceID      id.TraceID `json:"trace_id"`
	OverrideType string     `json:"override_type"`
	ReasonCodes  []string   `json:"reason_codes"`
	ProposalID   uuid.UUID  `json:"proposal_id"`

	BishopValue      any     `json:"bishop_value"`
	BishopConfidence float64 `json:"bishop_confidence"`
	HumanValue       any     `json:"human_value"`

	HumanUserID     id.UserID      `json:"human_user_id"`
	HumanRole       string         `json:"human_role"`
	HumanNotes      string         `json:"human_notes,omitempty"`
	ContextSnapshot map[string]any `json:"context_snapshot,omitempty"`

	OutcomeTracked    bool      `json:"outcome_tracked"`
	OutcomeWasCorrect *bool     `json:"outcome_was_correct,omitempty"`
	OutcomeNotes      string    `json:"outcome_notes,omitempty"`
	LoggedAt          time.Time `json:"logged_at"`
}

// BlockRecord captures an action refused by the engine or a policy gate.
type BlockRecord struct {
	LogID     uuid.UUID  `json:"log_id"`
	TraceID   id.TraceID `json:"trace_id"`
	Action    string     `json:"blocked_action"`
	EntityID  uuid.UUID  `json:"blocked_entity_id"`
	EntityType string    `json:"blocked_entity_type"`
	Blocker   string     `json:"blocker"`
	DAGNodeID string     `json:"dag_node_id"`

	ReasonCodes          []string       `json:"reason_codes"`
	ReasonDetails        map[string]any `json:"reason_details,omitempty"`
	BlockedValueMicros   *int64         `json:"blocked_value_micros,omitempty"`
	ThresholdValueMicros *int64         `json:"threshold_value_micros,omitempty"`
	ConfidenceAtBlock    *float64       `json:"confidence_at_block,omitempty"`

	Resolved       bool       `json:"resolved"`
	ResolutionType string     `json:"resolution_type,omitempty"`
	ResolvedBy     *id.UserID `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	LoggedAt       time.Time  `json:"logged_at"`
}

// ExecutionRecord captures an action that actually ran, with its governance
// lineage.
type ExecutionRecord struct {
	LogID         uuid.UUID  `json:"log_id"`
	TraceID       id.TraceID `json:"trace_id"`
	ExecutionType string     `json:"execution_type"`
	EntityID      uuid.UUID  `json:"entity_id"`
	EntityType    string     `json:"entity_type"`
	DAGNodeID     string     `json:"dag_node_id"`
	ProposalID    uuid.UUID  `json:"proposal_id"`

	ExecutedBy      string   `json:"executed_by"`
	ExecutionMethod string   `json:"execution_method"`
	ValueMicros     *int64   `json:"executed_value_micros,omitempty"`
	Quantity        *int64   `json:"executed_quantity,omitempty"`
	SideEffects     []string `json:"side_effects_declared,omitempty"`

	LoggedAt time.Time `json:"logged_at"`
}

// Trace aggregates every record kind sharing a trace id: what was proposed,
// what a human did, why, and what happened.
type Trace struct {
	TraceID    id.TraceID        `json:"trace_id"`
	Proposals  []*ProposalRecord  `json:"proposal_logs"`
	Overrides  []*OverrideRecord  `json:"override_logs"`
	Blocks     []*BlockRecord     `json:"block_logs"`
	Executions []*ExecutionRecord `json:"execution_logs"`
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the default page size.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Summary aggregates the audit trail for monitoring.
type Summary struct {
	TotalProposals    int64    `json:"total_proposals"`
	ProposalsApproved int64    `json:"proposals_approved"`
	ProposalsRejected int64    `json:"proposals_rejected"`
	ProposalsModified int64    `json:"proposals_modified"`
	TotalOverrides    int64    `json:"total_overrides"`
	OverrideAccuracy  *float64 `json:"override_accuracy,omitempty"`
	TotalBlocks       int64    `json:"total_blocks"`
	UnresolvedBlocks  int64    `json:"unresolved_blocks"`
	TotalExecutions   int64    `json:"total_executions"`
}
