package store

import (
	"context"
	"sync"
	"time"

	"proveniq-ops/internal/trust/models"
	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/sentinel"
)

// MemoryTierStore keeps tier results and history in memory. Safe for
// concurrent use.
type MemoryTierStore struct {
	mu      sync.RWMutex
	current map[id.AssetID]*models.Result
	history []*models.HistoryEntry
}

// NewMemoryTiers constructs an empty in-memory tier store.
func NewMemoryTiers() *MemoryTierStore {
	return &MemoryTierStore{current: make(map[id.AssetID]*models.Result)}
}

func (s *MemoryTierStore) Current(_ context.Context, assetID id.AssetID) (*models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.current[assetID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *result
	return &clone, nil
}

func (s *MemoryTierStore) SaveIfNewer(_ context.Context, result *models.Result) (*models.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.current[result.AssetID]
	if ok && !previous.CalculatedAt.Before(result.CalculatedAt) {
		clone := *previous
		return &clone, false, nil
	}

	clone := *result
	s.current[result.AssetID] = &clone
	if !ok {
		return nil, true, nil
	}
	prevClone := *previous
	return &prevClone, true, nil
}

func (s *MemoryTierStore) AppendHistory(_ context.Context, entry *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *entry
	s.history = append(s.history, &clone)
	return nil
}

func (s *MemoryTierStore) History(_ context.Context, assetID id.AssetID, limit int) ([]*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.HistoryEntry
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if s.history[i].AssetID == assetID {
			clone := *s.history[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryTierStore) Distribution(_ context.Context, orgID id.OrgID) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, result := range s.current {
		if result.OrgID == orgID {
			counts[result.Tier.String()]++
		}
	}
	return counts, nil
}

// MemoryWaiverStore keeps active security waivers in memory.
type MemoryWaiverStore struct {
	mu      sync.RWMutex
	waivers []*models.Waiver
}

// NewMemoryWaivers constructs an empty in-memory waiver store.
func NewMemoryWaivers() *MemoryWaiverStore {
	return &MemoryWaiverStore{}
}

// Add registers a waiver.
func (s *MemoryWaiverStore) Add(waiver *models.Waiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *waiver
	s.waivers = append(s.waivers, &clone)
}

// Expire marks all waivers for an asset inactive.
func (s *MemoryWaiverStore) Expire(assetID id.AssetID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, waiver := range s.waivers {
		if waiver.AssetID == assetID {
			waiver.Status = "expired"
		}
	}
}

func (s *MemoryWaiverStore) ActiveCap(_ context.Context, assetID id.AssetID, now time.Time) (*models.Waiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Waiver
	for _, waiver := range s.waivers {
		if waiver.AssetID != assetID || waiver.Status != "active" {
			continue
		}
		if waiver.ExpiresAt != nil && !waiver.ExpiresAt.After(now) {
			continue
		}
		if best == nil || waiver.TierCap < best.TierCap {
			best = waiver
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	clone := *best
	return &clone, nil
}

// MemoryThresholdStore serves a fixed threshold table, defaulting to the
// baseline 1.0.0 version.
type MemoryThresholdStore struct {
	mu     sync.RWMutex
	active *models.Thresholds
}

// NewMemoryThresholds constructs a threshold store seeded with defaults.
func NewMemoryThresholds() *MemoryThresholdStore {
	return &MemoryThresholdStore{active: models.DefaultThresholds()}
}

// Set replaces the active threshold table.
func (s *MemoryThresholdStore) Set(t *models.Thresholds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *t
	s.active = &clone
}

func (s *MemoryThresholdStore) Active(_ context.Context) (*models.Thresholds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, sentinel.ErrNotFound
	}
	clone := *s.active
	return &clone, nil
}
