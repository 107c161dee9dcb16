package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"proveniq-ops/internal/events/models"
	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/canonical"
	"proveniq-ops/pkg/platform/sentinel"
)

// MemoryStore is an in-memory event store used in tests and for running
// without PostgreSQL. Safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[id.EventID]*models.Event
	byIdemKey  map[string]id.EventID
	byAssetVer map[assetVersion]id.EventID
	ordered    []id.EventID
}

type assetVersion struct {
	assetID id.AssetID
	version int64
}

// NewMemory constructs an empty in-memory event store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[id.EventID]*models.Event),
		byIdemKey:  make(map[string]id.EventID),
		byAssetVer: make(map[assetVersion]id.EventID),
	}
}

func (s *MemoryStore) Insert(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byIdemKey[event.IdempotencyKey]; ok {
		return sentinel.ErrAlreadyExists
	}
	if !event.AssetID.IsNil() {
		key := assetVersion{event.AssetID, event.AggregateVersion}
		if _, ok := s.byAssetVer[key]; ok {
			return sentinel.ErrAlreadyExists
		}
		s.byAssetVer[key] = event.EventID
	}

	stored := cloneEvent(event)
	s.byID[stored.EventID] = stored
	s.byIdemKey[stored.IdempotencyKey] = stored.EventID
	s.ordered = append(s.ordered, stored.EventID)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, eventID id.EventID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.byID[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEvent(event), nil
}

func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, key string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eventID, ok := s.byIdemKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEvent(s.byID[eventID]), nil
}

func (s *MemoryStore) FindByCorrelation(_ context.Context, correlationID string) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Event
	for _, eventID := range s.ordered {
		if event := s.byID[eventID]; event.CorrelationID == correlationID {
			out = append(out, cloneEvent(event))
		}
	}
	sortByTimestampAsc(out)
	return out, nil
}

func (s *MemoryStore) FindByType(_ context.Context, eventType string, since, until *time.Time, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Event
	for _, eventID := range s.ordered {
		event := s.byID[eventID]
		if event.EventType != eventType {
			continue
		}
		if !inRange(event.Timestamp, since, until) {
			continue
		}
		out = append(out, cloneEvent(event))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Tail(_ context.Context, assetID id.AssetID) (int64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tail *models.Event
	for _, eventID := range s.ordered {
		event := s.byID[eventID]
		if event.AssetID != assetID {
			continue
		}
		if tail == nil || event.AggregateVersion > tail.AggregateVersion {
			tail = event
		}
	}
	if tail == nil {
		return 0, "", sentinel.ErrNotFound
	}
	return tail.AggregateVersion, tail.EventHash, nil
}

func (s *MemoryStore) Chain(_ context.Context, assetID id.AssetID) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Event
	for _, eventID := range s.ordered {
		if event := s.byID[eventID]; event.AssetID == assetID {
			out = append(out, cloneEvent(event))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AggregateVersion < out[j].AggregateVersion })
	return out, nil
}

func (s *MemoryStore) Search(_ context.Context, filter models.SearchFilter) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(filter.Query)
	var out []*models.Event
	for _, eventID := range s.ordered {
		event := s.byID[eventID]
		if len(filter.EventTypes) > 0 && !contains(filter.EventTypes, event.EventType) {
			continue
		}
		if filter.Since != nil && event.Timestamp.Before(*filter.Since) {
			continue
		}
		raw, err := canonical.Marshal(event.Payload)
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(string(raw)), query) {
			continue
		}
		out = append(out, cloneEvent(event))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Timeline(_ context.Context, filter models.TimelineFilter) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Event
	for _, eventID := range s.ordered {
		event := s.byID[eventID]
		if !filter.AssetID.IsNil() && event.AssetID != filter.AssetID {
			continue
		}
		if filter.LocationID != "" {
			loc, _ := event.Payload["location_id"].(string)
			if loc != filter.LocationID {
				continue
			}
		}
		if !inRange(event.Timestamp, filter.Since, filter.Until) {
			continue
		}
		out = append(out, cloneEvent(event))
	}
	sortByTimestampAsc(out)
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountByType(_ context.Context, since *time.Time) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, event := range s.byID {
		if since != nil && event.Timestamp.Before(*since) {
			continue
		}
		counts[event.EventType]++
	}
	return counts, nil
}

func (s *MemoryStore) FindUnsynced(_ context.Context, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Event
	for _, eventID := range s.ordered {
		if event := s.byID[eventID]; !event.SyncedToLedger {
			out = append(out, cloneEvent(event))
		}
	}
	sortByTimestampAsc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkSynced(_ context.Context, eventID id.EventID, ledgerEventID string, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.byID[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	event.SyncedToLedger = true
	event.LedgerEventID = ledgerEventID
	at := syncedAt
	event.SyncedAt = &at
	return nil
}

// Tamper overwrites a stored payload in place, bypassing the append-only
// contract. Only tests use it, to prove chain verification catches mutation.
func (s *MemoryStore) Tamper(eventID id.EventID, payload map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.byID[eventID]
	if !ok {
		return false
	}
	event.Payload = payload
	return true
}

func cloneEvent(event *models.Event) *models.Event {
	clone := *event
	clone.Payload = make(map[string]any, len(event.Payload))
	for k, v := range event.Payload {
		clone.Payload[k] = v
	}
	if event.SyncedAt != nil {
		at := *event.SyncedAt
		clone.SyncedAt = &at
	}
	return &clone
}

func sortByTimestampAsc(events []*models.Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
}

func inRange(t time.Time, since, until *time.Time) bool {
	if since != nil && t.Before(*since) {
		return false
	}
	if until != nil && t.After(*until) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
