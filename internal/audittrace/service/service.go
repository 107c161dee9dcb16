// Package service implements the audit trace store: the permanent,
// append-only record of every proposal, override, block, and execution in
// the decision pipeline.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"proveniq-ops/internal/audittrace/models"
	bishopmodels "proveniq-ops/internal/bishop/models"
	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
	"proveniq-ops/pkg/platform/sentinel"
)

// Store persists audit records. Implementations must treat records as
// immutable apart from SetOverrideOutcome and ResolveBlock.
type Store interface {
	InsertProposal(ctx context.Context, record *models.ProposalRecord) error
	InsertOverride(ctx context.Context, record *models.OverrideRecord) error
	InsertBlock(ctx context.Context, record *models.BlockRecord) error
	InsertExecution(ctx context.Context, record *models.ExecutionRecord) error

	// FindProposalGenerated returns the original generated record for a
	// proposal id, or sentinel.ErrNotFound.
	FindProposalGenerated(ctx context.Context, proposalID uuid.UUID) (*models.ProposalRecord, error)

	// SetOverrideOutcome binds the late outcome fields exactly once;
	// a second call returns sentinel.ErrInvalidState.
	SetOverrideOutcome(ctx context.Context, logID uuid.UUID, wasCorrect bool, notes string) (*models.OverrideRecord, error)
	// ResolveBlock marks a block resolved exactly once.
	ResolveBlock(ctx context.Context, logID uuid.UUID, resolutionType string, resolvedBy id.UserID, at time.Time) (*models.BlockRecord, error)

	ListProposals(ctx context.Context, eventType models.ProposalEventType, page models.Page) ([]*models.ProposalRecord, error)
	ListOverrides(ctx context.Context, overrideType string, page models.Page) ([]*models.OverrideRecord, error)
	ListBlocks(ctx context.Context, resolved *bool, page models.Page) ([]*models.BlockRecord, error)
	ListExecutions(ctx context.Context, page models.Page) ([]*models.ExecutionRecord, error)

	FindByTrace(ctx context.Context, traceID id.TraceID) (*models.Trace, error)
	Summary(ctx context.Context) (models.Summary, error)
}

// Service is the audit trail facade over a Store.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs the audit trace service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProposalInput carries the engine-side fields of a generated proposal.
type ProposalInput struct {
	TraceID        id.TraceID
	ProposalID     uuid.UUID
	ProposalType   string
	DAGNodeID      string
	Recommendation map[string]any
	Confidence     float64
	ReasonCodes    []string
}

// LogProposalGenerated appends a record of an engine-generated proposal.
func (s *Service) LogProposalGenerated(ctx context.Context, input ProposalInput) (*models.ProposalRecord, error) {
	record := &models.ProposalRecord{
		LogID:          uuid.New(),
		EventType:      models.ProposalGenerated,
		TraceID:        input.TraceID,
		ProposalID:     input.ProposalID,
		ProposalType:   input.ProposalType,
		DAGNodeID:      input.DAGNodeID,
		Recommendation: input.Recommendation,
		Confidence:     input.Confidence,
		ReasonCodes:    input.ReasonCodes,
		LoggedAt:       s.now().UTC(),
	}
	if err := s.store.InsertProposal(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to log proposal")
	}
	s.logger.InfoContext(ctx, "proposal generated",
		"log_id", record.LogID, "proposal_id", input.ProposalID, "dag_node_id", input.DAGNodeID)
	return record, nil
}

// DecisionInput carries the human side of a proposal decision.
type DecisionInput struct {
	TraceID     id.TraceID
	ProposalID  uuid.UUID
	Decision    string
	UserID      id.UserID
	ReasonCodes []string
	Notes       string
	FinalAction map[string]any
}

// LogProposalDecision appends a decision record, inheriting the engine-side
// fields from the original generated record when one exists. The original is
// never touched.
func (s *Service) LogProposalDecision(ctx context.Context, input DecisionInput) (*models.ProposalRecord, error) {
	record := &models.ProposalRecord{
		LogID:            uuid.New(),
		EventType:        models.DecisionEventType(input.Decision),
		TraceID:          input.TraceID,
		ProposalID:       input.ProposalID,
		ProposalType:     "unknown",
		DAGNodeID:        "unknown",
		HumanDecision:    input.Decision,
		HumanUserID:      input.UserID,
		HumanReasonCodes: input.ReasonCodes,
		HumanNotes:       input.Notes,
		FinalAction:      input.FinalAction,
		LoggedAt:         s.now().UTC(),
	}

	original, err := s.store.FindProposalGenerated(ctx, input.ProposalID)
	switch {
	case err == nil:
		record.ProposalType = original.ProposalType
		record.DAGNodeID = original.DAGNodeID
		record.Recommendation = original.Recommendation
		record.Confidence = original.Confidence
		record.ReasonCodes = original.ReasonCodes
		parent := original.TraceID
		record.ParentTraceID = &parent
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load original proposal")
	}

	if err := s.store.InsertProposal(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to log proposal decision")
	}
	s.logger.InfoContext(ctx, "proposal decided",
		"log_id", record.LogID, "proposal_id", input.ProposalID, "decision", input.Decision)
	return record, nil
}

// OverrideInput carries what the engine recommended versus what the human
// chose, and why.
type OverrideInput struct {
	TraceID          id.TraceID
	OverrideType     string
	ReasonCodes      []string
	ProposalID       uuid.UUID
	BishopValue      any
	BishopConfidence float64
	HumanValue       any
	UserID           id.UserID
	UserRole         string
	Notes            string
	ContextSnapshot  map[string]any
}

// LogOverride appends an override record. Whether the human was right is
// unknown at this point; UpdateOverrideOutcome binds it later.
func (s *Service) LogOverride(ctx context.Context, input OverrideInput) (*models.OverrideRecord, error) {
	record := &models.OverrideRecord{
		LogID:            uuid.New(),
		TraceID:          input.TraceID,
		OverrideType:     input.OverrideType,
		ReasonCodes:      input.ReasonCodes,
		ProposalID:       input.ProposalID,
		BishopValue:      input.BishopValue,
		BishopConfidence: input.BishopConfidence,
		HumanValue:       input.HumanValue,
		HumanUserID:      input.UserID,
		HumanRole:        input.UserRole,
		HumanNotes:       input.Notes,
		ContextSnapshot:  input.ContextSnapshot,
		LoggedAt:         s.now().UTC(),
	}
	if err := s.store.InsertOverride(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to log override")
	}
	s.logger.InfoContext(ctx, "override logged",
		"log_id", record.LogID, "proposal_id", input.ProposalID, "override_type", input.OverrideType)
	return record, nil
}

// UpdateOverrideOutcome sets outcome_was_correct exactly once, after the
// resolution window has passed. A second call is refused.
func (s *Service) UpdateOverrideOutcome(ctx context.Context, logID uuid.UUID, wasCorrect bool, notes string) (*models.OverrideRecord, error) {
	record, err := s.store.SetOverrideOutcome(ctx, logID, wasCorrect, notes)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "override record not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return nil, dErrors.New(dErrors.CodeConflict, "override outcome already recorded")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record override outcome")
	}
	s.logger.InfoContext(ctx, "override outcome recorded",
		"log_id", logID, "was_correct", wasCorrect)
	return record, nil
}

// BlockInput carries a refused action and its reasons.
type BlockInput struct {
	TraceID              id.TraceID
	Action               string
	EntityID             uuid.UUID
	EntityType           string
	Blocker              string
	DAGNodeID            string
	ReasonCodes          []string
	ReasonDetails        map[string]any
	BlockedValueMicros   *int64
	ThresholdValueMicros *int64
	Confidence           *float64
}

// LogBlock appends a record of a refused action.
func (s *Service) LogBlock(ctx context.Context, input BlockInput) (*models.BlockRecord, error) {
	record := &models.BlockRecord{
		LogID:                uuid.New(),
		TraceID:              input.TraceID,
		Action:               input.Action,
		EntityID:             input.EntityID,
		EntityType:           input.EntityType,
		Blocker:              input.Blocker,
		DAGNodeID:            input.DAGNodeID,
		ReasonCodes:          input.ReasonCodes,
		ReasonDetails:        input.ReasonDetails,
		BlockedValueMicros:   input.BlockedValueMicros,
		ThresholdValueMicros: input.ThresholdValueMicros,
		ConfidenceAtBlock:    input.Confidence,
		LoggedAt:             s.now().UTC(),
	}
	if err := s.store.InsertBlock(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to log block")
	}
	s.logger.InfoContext(ctx, "action blocked",
		"log_id", record.LogID, "action", input.Action, "blocker", input.Blocker)
	return record, nil
}

// ResolveBlock marks a block resolved exactly once.
func (s *Service) ResolveBlock(ctx context.Context, logID uuid.UUID, resolutionType string, resolvedBy id.UserID) (*models.BlockRecord, error) {
	record, err := s.store.ResolveBlock(ctx, logID, resolutionType, resolvedBy, s.now().UTC())
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "block record not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return nil, dErrors.New(dErrors.CodeConflict, "block already resolved")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve block")
	}
	s.logger.InfoContext(ctx, "block resolved",
		"log_id", logID, "resolution_type", resolutionType)
	return record, nil
}

// ExecutionInput carries an executed action with its governance lineage.
type ExecutionInput struct {
	TraceID         id.TraceID
	ExecutionType   string
	EntityID        uuid.UUID
	EntityType      string
	DAGNodeID       string
	ProposalID      uuid.UUID
	ExecutedBy      string
	ExecutionMethod string
	ValueMicros     *int64
	Quantity        *int64
	SideEffects     []string
}

// LogExecution appends a record of an executed action.
func (s *Service) LogExecution(ctx context.Context, input ExecutionInput) (*models.ExecutionRecord, error) {
	record := &models.ExecutionRecord{
		LogID:           uuid.New(),
		TraceID:         input.TraceID,
		ExecutionType:   input.ExecutionType,
		EntityID:        input.EntityID,
		EntityType:      input.EntityType,
		DAGNodeID:       input.DAGNodeID,
		ProposalID:      input.ProposalID,
		ExecutedBy:      input.ExecutedBy,
		ExecutionMethod: input.ExecutionMethod,
		ValueMicros:     input.ValueMicros,
		Quantity:        input.Quantity,
		SideEffects:     input.SideEffects,
		LoggedAt:        s.now().UTC(),
	}
	if err := s.store.InsertExecution(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to log execution")
	}
	return record, nil
}

// GetTrace aggregates every record kind sharing a trace id.
func (s *Service) GetTrace(ctx context.Context, traceID id.TraceID) (*models.Trace, error) {
	trace, err := s.store.FindByTrace(ctx, traceID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load trace")
	}
	return trace, nil
}

// ListProposals returns proposal records, newest first.
func (s *Service) ListProposals(ctx context.Context, eventType models.ProposalEventType, page models.Page) ([]*models.ProposalRecord, error) {
	return s.store.ListProposals(ctx, eventType, page.Normalize())
}

// ListOverrides returns override records, newest first.
func (s *Service) ListOverrides(ctx context.Context, overrideType string, page models.Page) ([]*models.OverrideRecord, error) {
	return s.store.ListOverrides(ctx, overrideType, page.Normalize())
}

// ListBlocks returns block records, newest first.
func (s *Service) ListBlocks(ctx context.Context, resolved *bool, page models.Page) ([]*models.BlockRecord, error) {
	return s.store.ListBlocks(ctx, resolved, page.Normalize())
}

// ListExecutions returns execution records, newest first.
func (s *Service) ListExecutions(ctx context.Context, page models.Page) ([]*models.ExecutionRecord, error) {
	return s.store.ListExecutions(ctx, page.Normalize())
}

// Summary aggregates the trail for monitoring.
func (s *Service) Summary(ctx context.Context) (models.Summary, error) {
	return s.store.Summary(ctx)
}

// RecordExecution implements the orchestrator's trace hook: every node
// execution attempt lands in the audit trail as an execution record.
func (s *Service) RecordExecution(ctx context.Context, record bishopmodels.ExecutionRecord) {
	_, err := s.LogExecution(ctx, ExecutionInput{
		TraceID:         id.NewTraceID(),
		ExecutionType:   "dag_node",
		EntityID:        record.ExecutionID,
		EntityType:      "dag_node",
		DAGNodeID:       record.NodeID,
		ExecutedBy:      "bishop",
		ExecutionMethod: "orchestrator",
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record node execution",
			"node_id", record.NodeID, "error", err)
	}
}
