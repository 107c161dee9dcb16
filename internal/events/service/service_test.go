package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"proveniq-ops/internal/events/models"
	"proveniq-ops/internal/events/store"
	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
)

// =============================================================================
// Event Log Service Test Suite
// =============================================================================
// Justification for unit tests: the hash chain, idempotency, and optimistic
// concurrency behavior of Append are contract-critical and cheap to exercise
// against the in-memory store without a database.

type EventServiceSuite struct {
	suite.Suite
	store   *store.MemoryStore
	service *Service
}

func TestEventServiceSuite(t *testing.T) {
	suite.Run(t, new(EventServiceSuite))
}

func (s *EventServiceSuite) SetupTest() {
	s.store = store.NewMemory()
	s.service = New(s.store)
}

func (s *EventServiceSuite) append(assetID id.AssetID, eventType, idemKey string, payload map[string]any) *models.Event {
	event, err := s.service.Append(context.Background(), AppendInput{
		EventType:      eventType,
		Payload:        payload,
		AssetID:        assetID,
		IdempotencyKey: idemKey,
	})
	s.Require().NoError(err)
	return event
}

// =============================================================================
// Append Tests
// =============================================================================

func (s *EventServiceSuite) TestAppend() {
	ctx := context.Background()

	s.Run("missing event type is rejected", func() {
		_, err := s.service.Append(ctx, AppendInput{})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("first event for an asset starts at genesis", func() {
		assetID := id.NewAssetID()
		event := s.append(assetID, "intake.recorded", "", map[string]any{"qty": 3})

		s.Equal(int64(1), event.AggregateVersion)
		s.Equal(models.GenesisHash, event.PrevEventHash)
		s.NotEmpty(event.EventHash)
		s.NotEmpty(event.PayloadHash)
		s.Equal(models.SourceApp, event.SourceApp)
		s.Equal(models.SchemaVersion, event.Version)
	})

	s.Run("subsequent events chain on the predecessor hash", func() {
		assetID := id.NewAssetID()
		first := s.append(assetID, "intake.recorded", "", map[string]any{"qty": 3})
		second := s.append(assetID, "scan.performed", "", map[string]any{"qty": 2})

		s.Equal(int64(2), second.AggregateVersion)
		s.Equal(first.EventHash, second.PrevEventHash)
	})

	s.Run("events without an asset do not join any chain", func() {
		event := s.append(id.AssetID{}, "system.started", "", nil)
		s.Equal(int64(0), event.AggregateVersion)
		s.Equal(models.GenesisHash, event.PrevEventHash)
	})
}

func (s *EventServiceSuite) TestAppendIdempotency() {
	ctx := context.Background()
	assetID := id.NewAssetID()

	first := s.append(assetID, "intake.recorded", "key-1", map[string]any{"qty": 3})

	// Same key with a different payload must return the original row.
	replay, err := s.service.Append(ctx, AppendInput{
		EventType:      "intake.recorded",
		Payload:        map[string]any{"qty": 99},
		AssetID:        assetID,
		IdempotencyKey: "key-1",
	})
	s.Require().NoError(err)
	s.Equal(first.EventID, replay.EventID)
	s.Equal(first.EventHash, replay.EventHash)

	counts, err := s.service.CountByType(ctx, nil)
	s.Require().NoError(err)
	s.Equal(int64(1), counts["intake.recorded"])
}

func (s *EventServiceSuite) TestConcurrentAppendsSerialize() {
	ctx := context.Background()
	assetID := id.NewAssetID()
	const writers = 8

	var wg sync.WaitGroup
	var conflicts int32
	var mu sync.Mutex

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Append(ctx, AppendInput{
				EventType: "scan.performed",
				Payload:   map[string]any{"writer": true},
				AssetID:   assetID,
			})
			if errors.Is(err, ErrWriteConflict) {
				mu.Lock()
				conflicts++
				mu.Unlock()
				return
			}
			s.NoError(err)
		}()
	}
	wg.Wait()

	chain, err := s.store.Chain(ctx, assetID)
	s.Require().NoError(err)
	s.NotEmpty(chain)

	// Versions must be contiguous from 1 with no duplicates, regardless of
	// how many writers had to give up.
	for i, event := range chain {
		s.Equal(int64(i+1), event.AggregateVersion)
	}

	report, err := s.service.VerifyChain(ctx, assetID)
	s.Require().NoError(err)
	s.Equal(models.ChainStatusValid, report.Status)
}

// =============================================================================
// Chain Verification Tests
// =============================================================================

func (s *EventServiceSuite) TestVerifyChain() {
	ctx := context.Background()

	s.Run("empty chain reports EMPTY", func() {
		report, err := s.service.VerifyChain(ctx, id.NewAssetID())
		s.Require().NoError(err)
		s.Equal(models.ChainStatusEmpty, report.Status)
		s.Zero(report.Length)
	})

	s.Run("untampered chain reports VALID", func() {
		assetID := id.NewAssetID()
		s.append(assetID, "intake.recorded", "", map[string]any{"qty": 1})
		s.append(assetID, "scan.performed", "", map[string]any{"qty": 2})
		s.append(assetID, "scan.performed", "", map[string]any{"qty": 3})

		report, err := s.service.VerifyChain(ctx, assetID)
		s.Require().NoError(err)
		s.Equal(models.ChainStatusValid, report.Status)
		s.Equal(3, report.Length)
		s.Nil(report.BrokenAt)
	})
}

func (s *EventServiceSuite) TestVerifyChainDetectsTampering() {
	ctx := context.Background()
	assetID := id.NewAssetID()

	s.append(assetID, "intake.recorded", "k1", map[string]any{"qty": 1})
	second := s.append(assetID, "scan.performed", "k2", map[string]any{"qty": 2})
	s.append(assetID, "scan.performed", "k3", map[string]any{"qty": 3})

	s.Require().True(s.store.Tamper(second.EventID, map[string]any{"qty": 9000}))

	report, err := s.service.VerifyChain(ctx, assetID)
	s.Require().NoError(err)
	s.Equal(models.ChainStatusInvalid, report.Status)
	s.Require().NotNil(report.BrokenAt)
	s.Equal(int64(2), *report.BrokenAt)
	s.Require().NotNil(report.BrokenEventID)
	s.Equal(second.EventID, *report.BrokenEventID)

	// Further appends for the quarantined asset are refused.
	_, err = s.service.Append(ctx, AppendInput{
		EventType: "scan.performed",
		AssetID:   assetID,
	})
	s.Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))

	var integrity *ChainIntegrityError
	s.True(errors.As(err, &integrity))
	s.Equal(int64(2), integrity.AggregateVersion)

	// Manual reconciliation lifts the quarantine. The stored rows remain
	// corrupt; only the write gate is cleared.
	s.service.ReconcileAsset(assetID)
	_, err = s.service.Append(ctx, AppendInput{
		EventType: "scan.performed",
		AssetID:   assetID,
	})
	s.NoError(err)
}

// =============================================================================
// Ledger Sync Bookkeeping Tests
// =============================================================================

func (s *EventServiceSuite) TestLedgerSyncBookkeeping() {
	ctx := context.Background()
	assetID := id.NewAssetID()

	first := s.append(assetID, "intake.recorded", "", nil)
	second := s.append(assetID, "scan.performed", "", nil)

	unsynced, err := s.service.GetUnsynced(ctx, 10)
	s.Require().NoError(err)
	s.Len(unsynced, 2)

	err = s.service.MarkSynced(ctx, first.EventID, "ledger-ev-1")
	s.Require().NoError(err)

	unsynced, err = s.service.GetUnsynced(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(unsynced, 1)
	s.Equal(second.EventID, unsynced[0].EventID)

	stored, err := s.service.GetByID(ctx, first.EventID)
	s.Require().NoError(err)
	s.True(stored.SyncedToLedger)
	s.Equal("ledger-ev-1", stored.LedgerEventID)
	s.NotNil(stored.SyncedAt)
}

// =============================================================================
// Query Tests
// =============================================================================

func (s *EventServiceSuite) TestForensicTimeline() {
	ctx := context.Background()
	assetID := id.NewAssetID()
	other := id.NewAssetID()

	s.append(assetID, "intake.recorded", "", map[string]any{"location_id": "loc-1"})
	s.append(other, "intake.recorded", "", map[string]any{"location_id": "loc-2"})
	s.append(assetID, "scan.performed", "", map[string]any{"location_id": "loc-1"})

	timeline, err := s.service.ForensicTimeline(ctx, models.TimelineFilter{AssetID: assetID})
	s.Require().NoError(err)
	s.Require().Len(timeline, 2)
	s.False(timeline[0].Timestamp.After(timeline[1].Timestamp))

	byLocation, err := s.service.ForensicTimeline(ctx, models.TimelineFilter{LocationID: "loc-2"})
	s.Require().NoError(err)
	s.Require().Len(byLocation, 1)
	s.Equal(other, byLocation[0].AssetID)
}

func (s *EventServiceSuite) TestSearch() {
	ctx := context.Background()
	assetID := id.NewAssetID()

	s.append(assetID, "intake.recorded", "", map[string]any{"product": "atlantic salmon"})
	s.append(assetID, "scan.performed", "", map[string]any{"product": "cod"})

	hits, err := s.service.Search(ctx, models.SearchFilter{Query: "salmon"})
	s.Require().NoError(err)
	s.Require().Len(hits, 1)
	s.Equal("intake.recorded", hits[0].EventType)

	_, err = s.service.Search(ctx, models.SearchFilter{})
	s.Error(err)
}
