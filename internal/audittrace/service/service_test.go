package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	bishopmodels "proveniq-ops/internal/bishop/models"

	"proveniq-ops/internal/audittrace/models"
	"proveniq-ops/internal/audittrace/service"
	"proveniq-ops/internal/audittrace/store"
	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
)

type AuditTraceSuite struct {
	suite.Suite

	ctx   context.Context
	store *store.MemoryStore
	svc   *service.Service
	now   time.Time
}

func TestAuditTraceSuite(t *testing.T) {
	suite.Run(t, new(AuditTraceSuite))
}

func (s *AuditTraceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemoryStore()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.svc = service.New(s.store,
		service.WithClock(func() time.Time { return s.now }),
	)
}

// =============================================================================
// Proposal records
// =============================================================================

func (s *AuditTraceSuite) TestDecisionInheritsFromOriginalProposal() {
	traceID := id.NewTraceID()
	proposalID := uuid.New()

	original, err := s.svc.LogProposalGenerated(s.ctx, service.ProposalInput{
		TraceID:      traceID,
		ProposalID:   proposalID,
		ProposalType: "reorder",
		DAGNodeID:    "order_proposal",
		Recommendation: map[string]any{
			"quantity": 40,
		},
		Confidence:  0.82,
		ReasonCodes: []string{"STOCKOUT_RISK_HIGH"},
	})
	s.Require().NoError(err)
	s.Equal(models.ProposalGenerated, original.EventType)
	s.Nil(original.ParentTraceID)

	decision, err := s.svc.LogProposalDecision(s.ctx, service.DecisionInput{
		TraceID:     id.NewTraceID(),
		ProposalID:  proposalID,
		Decision:    "modified",
		UserID:      id.NewUserID(),
		ReasonCodes: []string{"BUDGET_LIMIT"},
		Notes:       "halved the quantity",
		FinalAction: map[string]any{"quantity": 20},
	})
	s.Require().NoError(err)

	s.Equal(models.ProposalModified, decision.EventType)
	s.Equal("reorder", decision.ProposalType)
	s.Equal("order_proposal", decision.DAGNodeID)
	s.Equal(0.82, decision.Confidence)
	s.Equal([]string{"STOCKOUT_RISK_HIGH"}, decision.ReasonCodes)
	s.Require().NotNil(decision.ParentTraceID)
	s.Equal(traceID, *decision.ParentTraceID)

	// The generated record is untouched by the decision.
	reloaded, err := s.store.FindProposalGenerated(s.ctx, proposalID)
	s.Require().NoError(err)
	s.Empty(reloaded.HumanDecision)
	s.Nil(reloaded.FinalAction)
}

func (s *AuditTraceSuite) TestDecisionWithoutOriginalUsesPlaceholders() {
	decision, err := s.svc.LogProposalDecision(s.ctx, service.DecisionInput{
		TraceID:    id.NewTraceID(),
		ProposalID: uuid.New(),
		Decision:   "rejected",
		UserID:     id.NewUserID(),
	})
	s.Require().NoError(err)

	s.Equal(models.ProposalRejected, decision.EventType)
	s.Equal("unknown", decision.ProposalType)
	s.Equal("unknown", decision.DAGNodeID)
	s.Nil(decision.ParentTraceID)
}

// =============================================================================
// Override outcome (exactly once)
// =============================================================================

func (s *AuditTraceSuite) TestOverrideOutcomeRecordedExactlyOnce() {
	override, err := s.svc.LogOverride(s.ctx, service.OverrideInput{
		TraceID:          id.NewTraceID(),
		OverrideType:     "quantity",
		ReasonCodes:      []string{"SUPPLIER_INTEL"},
		ProposalID:       uuid.New(),
		BishopValue:      40,
		BishopConfidence: 0.82,
		HumanValue:       60,
		UserID:           id.NewUserID(),
		UserRole:         "ops_manager",
	})
	s.Require().NoError(err)
	s.False(override.OutcomeTracked)
	s.Nil(override.OutcomeWasCorrect)

	updated, err := s.svc.UpdateOverrideOutcome(s.ctx, override.LogID, false, "engine was right")
	s.Require().NoError(err)
	s.True(updated.OutcomeTracked)
	s.Require().NotNil(updated.OutcomeWasCorrect)
	s.False(*updated.OutcomeWasCorrect)
	s.Equal("engine was right", updated.OutcomeNotes)

	_, err = s.svc.UpdateOverrideOutcome(s.ctx, override.LogID, true, "flip attempt")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	// The first outcome stands.
	records, err := s.svc.ListOverrides(s.ctx, "", models.Page{})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.False(*records[0].OutcomeWasCorrect)
}

func (s *AuditTraceSuite) TestOverrideOutcomeUnknownRecord() {
	_, err := s.svc.UpdateOverrideOutcome(s.ctx, uuid.New(), true, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Block resolution (exactly once)
// =============================================================================

func (s *AuditTraceSuite) TestBlockResolvedExactlyOnce() {
	blockedValue := int64(12_500_000)
	threshold := int64(10_000_000)

	block, err := s.svc.LogBlock(s.ctx, service.BlockInput{
		TraceID:              id.NewTraceID(),
		Action:               "auto_order",
		EntityID:             uuid.New(),
		EntityType:           "purchase_order",
		Blocker:              "value_gate",
		DAGNodeID:            "order_policy_gate",
		ReasonCodes:          []string{"VALUE_ABOVE_THRESHOLD"},
		BlockedValueMicros:   &blockedValue,
		ThresholdValueMicros: &threshold,
	})
	s.Require().NoError(err)
	s.False(block.Resolved)

	resolver := id.NewUserID()
	resolved, err := s.svc.ResolveBlock(s.ctx, block.LogID, "manual_approval", resolver)
	s.Require().NoError(err)
	s.True(resolved.Resolved)
	s.Equal("manual_approval", resolved.ResolutionType)
	s.Require().NotNil(resolved.ResolvedBy)
	s.Equal(resolver, *resolved.ResolvedBy)
	s.Require().NotNil(resolved.ResolvedAt)
	s.Equal(s.now, *resolved.ResolvedAt)

	_, err = s.svc.ResolveBlock(s.ctx, block.LogID, "dismissed", id.NewUserID())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

// =============================================================================
// Trace aggregation
// =============================================================================

func (s *AuditTraceSuite) TestTraceAggregatesAllRecordKinds() {
	traceID := id.NewTraceID()
	proposalID := uuid.New()

	_, err := s.svc.LogProposalGenerated(s.ctx, service.ProposalInput{
		TraceID:    traceID,
		ProposalID: proposalID,
	})
	s.Require().NoError(err)

	_, err = s.svc.LogOverride(s.ctx, service.OverrideInput{
		TraceID:    traceID,
		ProposalID: proposalID,
		UserID:     id.NewUserID(),
	})
	s.Require().NoError(err)

	_, err = s.svc.LogBlock(s.ctx, service.BlockInput{
		TraceID:  traceID,
		Action:   "auto_order",
		EntityID: uuid.New(),
		Blocker:  "value_gate",
	})
	s.Require().NoError(err)

	_, err = s.svc.LogExecution(s.ctx, service.ExecutionInput{
		TraceID:       traceID,
		ExecutionType: "order_placement",
		EntityID:      uuid.New(),
		ProposalID:    proposalID,
		ExecutedBy:    "bishop",
	})
	s.Require().NoError(err)

	// Records on another trace stay out.
	_, err = s.svc.LogBlock(s.ctx, service.BlockInput{
		TraceID:  id.NewTraceID(),
		Action:   "auto_order",
		EntityID: uuid.New(),
		Blocker:  "value_gate",
	})
	s.Require().NoError(err)

	trace, err := s.svc.GetTrace(s.ctx, traceID)
	s.Require().NoError(err)
	s.Equal(traceID, trace.TraceID)
	s.Len(trace.Proposals, 1)
	s.Len(trace.Overrides, 1)
	s.Len(trace.Blocks, 1)
	s.Len(trace.Executions, 1)
}

// =============================================================================
// Summary
// =============================================================================

func (s *AuditTraceSuite) TestSummaryComputesOverrideAccuracy() {
	for range 3 {
		_, err := s.svc.LogProposalGenerated(s.ctx, service.ProposalInput{
			TraceID:    id.NewTraceID(),
			ProposalID: uuid.New(),
		})
		s.Require().NoError(err)
	}

	var overrideIDs []uuid.UUID
	for range 4 {
		record, err := s.svc.LogOverride(s.ctx, service.OverrideInput{
			TraceID:    id.NewTraceID(),
			ProposalID: uuid.New(),
			UserID:     id.NewUserID(),
		})
		s.Require().NoError(err)
		overrideIDs = append(overrideIDs, record.LogID)
	}

	// Three outcomes tracked, one of them correct; the fourth stays open.
	_, err := s.svc.UpdateOverrideOutcome(s.ctx, overrideIDs[0], true, "")
	s.Require().NoError(err)
	_, err = s.svc.UpdateOverrideOutcome(s.ctx, overrideIDs[1], false, "")
	s.Require().NoError(err)
	_, err = s.svc.UpdateOverrideOutcome(s.ctx, overrideIDs[2], false, "")
	s.Require().NoError(err)

	block, err := s.svc.LogBlock(s.ctx, service.BlockInput{
		TraceID:  id.NewTraceID(),
		Action:   "auto_order",
		EntityID: uuid.New(),
		Blocker:  "value_gate",
	})
	s.Require().NoError(err)
	_, err = s.svc.LogBlock(s.ctx, service.BlockInput{
		TraceID:  id.NewTraceID(),
		Action:   "auto_transfer",
		EntityID: uuid.New(),
		Blocker:  "confidence_gate",
	})
	s.Require().NoError(err)
	_, err = s.svc.ResolveBlock(s.ctx, block.LogID, "manual_approval", id.NewUserID())
	s.Require().NoError(err)

	summary, err := s.svc.Summary(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(3), summary.TotalProposals)
	s.Equal(int64(4), summary.TotalOverrides)
	s.Require().NotNil(summary.OverrideAccuracy)
	s.InDelta(1.0/3.0, *summary.OverrideAccuracy, 0.0001)
	s.Equal(int64(2), summary.TotalBlocks)
	s.Equal(int64(1), summary.UnresolvedBlocks)
}

func (s *AuditTraceSuite) TestSummaryWithoutTrackedOverrides() {
	_, err := s.svc.LogOverride(s.ctx, service.OverrideInput{
		TraceID:    id.NewTraceID(),
		ProposalID: uuid.New(),
		UserID:     id.NewUserID(),
	})
	s.Require().NoError(err)

	summary, err := s.svc.Summary(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), summary.TotalOverrides)
	s.Nil(summary.OverrideAccuracy)
}

// =============================================================================
// Listing and pagination
// =============================================================================

func (s *AuditTraceSuite) TestListProposalsNewestFirstWithPaging() {
	for i := range 5 {
		s.now = s.now.Add(time.Minute)
		_, err := s.svc.LogProposalGenerated(s.ctx, service.ProposalInput{
			TraceID:      id.NewTraceID(),
			ProposalID:   uuid.New(),
			ProposalType: "reorder",
			Confidence:   float64(i) / 10,
		})
		s.Require().NoError(err)
	}

	page1, err := s.svc.ListProposals(s.ctx, models.ProposalGenerated, models.Page{Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(page1, 2)
	s.Equal(0.4, page1[0].Confidence)
	s.Equal(0.3, page1[1].Confidence)

	page2, err := s.svc.ListProposals(s.ctx, models.ProposalGenerated, models.Page{Limit: 2, Offset: 2})
	s.Require().NoError(err)
	s.Require().Len(page2, 2)
	s.Equal(0.2, page2[0].Confidence)

	rejected, err := s.svc.ListProposals(s.ctx, models.ProposalRejected, models.Page{})
	s.Require().NoError(err)
	s.Empty(rejected)
}

func (s *AuditTraceSuite) TestListBlocksFiltersByResolution() {
	open, err := s.svc.LogBlock(s.ctx, service.BlockInput{
		TraceID:  id.NewTraceID(),
		Action:   "auto_order",
		EntityID: uuid.New(),
		Blocker:  "value_gate",
	})
	s.Require().NoError(err)
	resolvedBlock, err := s.svc.LogBlock(s.ctx, service.BlockInput{
		TraceID:  id.NewTraceID(),
		Action:   "auto_transfer",
		EntityID: uuid.New(),
		Blocker:  "confidence_gate",
	})
	s.Require().NoError(err)
	_, err = s.svc.ResolveBlock(s.ctx, resolvedBlock.LogID, "dismissed", id.NewUserID())
	s.Require().NoError(err)

	unresolved := false
	blocks, err := s.svc.ListBlocks(s.ctx, &unresolved, models.Page{})
	s.Require().NoError(err)
	s.Require().Len(blocks, 1)
	s.Equal(open.LogID, blocks[0].LogID)
}

// =============================================================================
// Orchestrator trace hook
// =============================================================================

func (s *AuditTraceSuite) TestRecordExecutionFromOrchestrator() {
	s.svc.RecordExecution(s.ctx, bishopmodels.ExecutionRecord{
		ExecutionID: uuid.New(),
		NodeID:      "stockout_risk",
		Status:      bishopmodels.StatusCompleted,
	})

	records, err := s.svc.ListExecutions(s.ctx, models.Page{})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("dag_node", records[0].ExecutionType)
	s.Equal("stockout_risk", records[0].DAGNodeID)
	s.Equal("bishop", records[0].ExecutedBy)
	s.Equal("orchestrator", records[0].ExecutionMethod)
	s.False(records[0].TraceID.IsNil())
}
