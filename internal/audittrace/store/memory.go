package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"proveniq-ops/internal/audittrace/models"
	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/sentinel"
)

// MemoryStore is an in-memory audit store for tests and local runs. Unlike
// the original ring buffers it never evicts.
type MemoryStore struct {
	mu         sync.RWMutex
	proposals  []*models.ProposalRecord
	overrides  []*models.OverrideRecord
	blocks     []*models.BlockRecord
	executions []*models.ExecutionRecord
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertProposal(_ context.Context, record *models.ProposalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.proposals = append(s.proposals, &clone)
	return nil
}

func (s *MemoryStore) InsertOverride(_ context.Context, record *models.OverrideRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.overrides = append(s.overrides, &clone)
	return nil
}

func (s *MemoryStore) InsertBlock(_ context.Context, record *models.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.blocks = append(s.blocks, &clone)
	return nil
}

func (s *MemoryStore) InsertExecution(_ context.Context, record *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.executions = append(s.executions, &clone)
	return nil
}

func (s *MemoryStore) FindProposalGenerated(_ context.Context, proposalID uuid.UUID) (*models.ProposalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.proposals {
		if record.ProposalID == proposalID && record.EventType == models.ProposalGenerated {
			clone := *record
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) SetOverrideOutcome(_ context.Context, logID uuid.UUID, wasCorrect bool, notes string) (*models.OverrideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.overrides {
		if record.LogID != logID {
			continue
		}
		if record.OutcomeTracked {
			return nil, sentinel.ErrInvalidState
		}
		record.OutcomeTracked = true
		record.OutcomeWasCorrect = &wasCorrect
		record.OutcomeNotes = notes
		clone := *record
		return &clone, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) ResolveBlock(_ context.Context, logID uuid.UUID, resolutionType string, resolvedBy id.UserID, at time.Time) (*models.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.blocks {
		if record.LogID != logID {
			continue
		}
		if record.Resolved {
			return nil, sentinel.ErrInvalidState
		}
		record.Resolved = true
		record.ResolutionType = resolutionType
		record.ResolvedBy = &resolvedBy
		record.ResolvedAt = &at
		clone := *record
		return &clone, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) ListProposals(_ context.Context, eventType models.ProposalEventType, page models.Page) ([]*models.ProposalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.ProposalRecord
	for i := len(s.proposals) - 1; i >= 0; i-- {
		record := s.proposals[i]
		if eventType != "" && record.EventType != eventType {
			continue
		}
		matched = append(matched, record)
	}
	return pageOf(matched, page), nil
}

func (s *MemoryStore) ListOverrides(_ context.Context, overrideType string, page models.Page) ([]*models.OverrideRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.OverrideRecord
	for i := len(s.overrides) - 1; i >= 0; i-- {
		record := s.overrides[i]
		if overrideType != "" && record.OverrideType != overrideType {
			continue
		}
		matched = append(matched, record)
	}
	return pageOf(matched, page), nil
}

func (s *MemoryStore) ListBlocks(_ context.Context, resolved *bool, page models.Page) ([]*models.BlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.BlockRecord
	for i := len(s.blocks) - 1; i >= 0; i-- {
		record := s.blocks[i]
		if resolved != nil && record.Resolved != *resolved {
			continue
		}
		matched = append(matched, record)
	}
	return pageOf(matched, page), nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, page models.Page) ([]*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.ExecutionRecord
	for i := len(s.executions) - 1; i >= 0; i-- {
		matched = append(matched, s.executions[i])
	}
	return pageOf(matched, page), nil
}

func (s *MemoryStore) FindByTrace(_ context.Context, traceID id.TraceID) (*models.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trace := &models.Trace{TraceID: traceID}
	for _, record := range s.proposals {
		if record.TraceID == traceID {
			clone := *record
			trace.Proposals = append(trace.Proposals, &clone)
		}
	}
	for _, record := range s.overrides {
		if record.TraceID == traceID {
			clone := *record
			trace.Overrides = append(trace.Overrides, &clone)
		}
	}
	for _, record := range s.blocks {
		if record.TraceID == traceID {
			clone := *record
			trace.Blocks = append(trace.Blocks, &clone)
		}
	}
	for _, record := range s.executions {
		if record.TraceID == traceID {
			clone := *record
			trace.Executions = append(trace.Executions, &clone)
		}
	}
	return trace, nil
}

func (s *MemoryStore) Summary(_ context.Context) (models.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := models.Summary{
		TotalOverrides:  int64(len(s.overrides)),
		TotalBlocks:     int64(len(s.blocks)),
		TotalExecutions: int64(len(s.executions)),
	}
	for _, record := range s.proposals {
		switch record.EventType {
		case models.ProposalGenerated:
			summary.TotalProposals++
		case models.ProposalApproved:
			summary.ProposalsApproved++
		case models.ProposalRejected:
			summary.ProposalsRejected++
		case models.ProposalModified:
			summary.ProposalsModified++
		}
	}
	var tracked, correct int64
	for _, record := range s.overrides {
		if !record.OutcomeTracked {
			continue
		}
		tracked++
		if record.OutcomeWasCorrect != nil && *record.OutcomeWasCorrect {
			correct++
		}
	}
	if tracked > 0 {
		accuracy := float64(correct) / float64(tracked)
		summary.OverrideAccuracy = &accuracy
	}
	for _, record := range s.blocks {
		if !record.Resolved {
			summary.UnresolvedBlocks++
		}
	}
	return summary, nil
}

func pageOf[T any](records []*T, page models.Page) []*T {
	if page.Offset >= len(records) {
		return nil
	}
	records = records[page.Offset:]
	if page.Limit > 0 && len(records) > page.Limit {
		records = records[:page.Limit]
	}
	out := make([]*T, len(records))
	for i, record := range records {
		clone := *record
		out[i] = &clone
	}
	return out
}
