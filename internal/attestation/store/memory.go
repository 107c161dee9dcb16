package store

import (
	"context"
	"sync"
	"time"

	"proveniq-ops/internal/attestation/models"
	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/sentinel"
)

// MemoryStore is an in-memory attestation store for tests and local runs.
type MemoryStore struct {
	mu           sync.RWMutex
	byID         map[string]*models.Attestation
	order        []string
	requests     []*models.RequestRecord
	verification map[string][]time.Time
}

// NewMemoryStore creates an empty in-memory attestation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:         make(map[string]*models.Attestation),
		verification: make(map[string][]time.Time),
	}
}

func scopeEqual(a *models.Attestation, assetID id.AssetID, attestationType models.Type, windowStart, windowEnd time.Time) bool {
	return a.AssetID == assetID &&
		a.Type == attestationType &&
		a.TimeWindowStart.Equal(windowStart) &&
		a.TimeWindowEnd.Equal(windowEnd)
}

func (s *MemoryStore) Insert(_ context.Context, attestation *models.Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[attestation.AttestationID]; ok {
		return sentinel.ErrAlreadyExists
	}
	for _, existingID := range s.order {
		existing := s.byID[existingID]
		if existing.Status == models.StatusValid &&
			scopeEqual(existing, attestation.AssetID, attestation.Type, attestation.TimeWindowStart, attestation.TimeWindowEnd) {
			return sentinel.ErrAlreadyExists
		}
	}

	clone := cloneAttestation(attestation)
	s.byID[attestation.AttestationID] = clone
	s.order = append(s.order, attestation.AttestationID)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, attestationID string) (*models.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attestation, ok := s.byID[attestationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAttestation(attestation), nil
}

func (s *MemoryStore) FindByScope(_ context.Context, assetID id.AssetID, attestationType models.Type, windowStart, windowEnd time.Time) (*models.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first so a superseded scope resolves to its latest holder.
	for i := len(s.order) - 1; i >= 0; i-- {
		attestation := s.byID[s.order[i]]
		if attestation.Status == models.StatusValid &&
			scopeEqual(attestation, assetID, attestationType, windowStart, windowEnd) {
			return cloneAttestation(attestation), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) List(_ context.Context, filter models.ListFilter) ([]*models.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Attestation
	for i := len(s.order) - 1; i >= 0; i-- {
		attestation := s.byID[s.order[i]]
		if !filter.AssetID.IsNil() && attestation.AssetID != filter.AssetID {
			continue
		}
		if !filter.OrgID.IsNil() && attestation.OrgID != filter.OrgID {
			continue
		}
		if filter.Type != "" && attestation.Type != filter.Type {
			continue
		}
		if filter.Status != "" && attestation.Status != filter.Status {
			continue
		}
		out = append(out, cloneAttestation(attestation))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordVerification(_ context.Context, attestationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[attestationID]; !ok {
		return sentinel.ErrNotFound
	}
	s.verification[attestationID] = append(s.verification[attestationID], at)
	return nil
}

func (s *MemoryStore) LogRequest(_ context.Context, record *models.RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	s.requests = append(s.requests, &clone)
	return nil
}

// Requests returns all logged requests, oldest first. Test hook.
func (s *MemoryStore) Requests() []*models.RequestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.RequestRecord, 0, len(s.requests))
	for _, record := range s.requests {
		clone := *record
		out = append(out, &clone)
	}
	return out
}

// Tamper overwrites the confidence score of a stored attestation, breaking
// its signature. Test hook.
func (s *MemoryStore) Tamper(attestationID string, confidence float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	attestation, ok := s.byID[attestationID]
	if !ok {
		return false
	}
	attestation.ConfidenceScore = confidence
	return true
}

// VerificationCount returns how many verifications were recorded for an
// attestation. Test hook.
func (s *MemoryStore) VerificationCount(attestationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.verification[attestationID])
}

func cloneAttestation(a *models.Attestation) *models.Attestation {
	clone := *a
	if a.DeclaredParameters != nil {
		clone.DeclaredParameters = make(map[string]any, len(a.DeclaredParameters))
		for k, v := range a.DeclaredParameters {
			clone.DeclaredParameters[k] = v
		}
	}
	if a.EvidenceEventIDs != nil {
		clone.EvidenceEventIDs = make([]id.EventID, len(a.EvidenceEventIDs))
		copy(clone.EvidenceEventIDs, a.EvidenceEventIDs)
	}
	return &clone
}
