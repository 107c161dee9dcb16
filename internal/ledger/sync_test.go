package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"proveniq-ops/internal/events"
	eventstore "proveniq-ops/internal/events/store"
	"proveniq-ops/internal/ledger"
	id "proveniq-ops/pkg/domain"
)

type SyncWorkerSuite struct {
	suite.Suite

	ctx    context.Context
	events *events.Service
	bridge *ledger.MemoryBridge
	worker *ledger.SyncWorker
}

func TestSyncWorkerSuite(t *testing.T) {
	suite.Run(t, new(SyncWorkerSuite))
}

func (s *SyncWorkerSuite) SetupTest() {
	s.ctx = context.Background()
	s.events = events.New(eventstore.NewMemory())
	s.bridge = ledger.NewMemoryBridge(10_000_000_000)
	s.worker = ledger.NewSyncWorker(s.bridge, s.events, 0, 0)
}

func (s *SyncWorkerSuite) append(eventType string) id.EventID {
	event, err := s.events.Append(s.ctx, events.AppendInput{
		EventType: eventType,
		AssetID:   id.NewAssetID(),
		Payload:   map[string]any{"reading": 4.2},
	})
	s.Require().NoError(err)
	return event.EventID
}

// =============================================================================
// Draining
// =============================================================================

func (s *SyncWorkerSuite) TestSyncOnceDrainsPendingEvents() {
	first := s.append("TEMPERATURE_READING")
	second := s.append("INVENTORY_SCAN")

	synced, err := s.worker.SyncOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, synced)
	s.Equal(2, s.bridge.WrittenCount())

	pending, err := s.events.GetUnsynced(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)

	for _, eventID := range []id.EventID{first, second} {
		stored, err := s.events.GetByID(s.ctx, eventID)
		s.Require().NoError(err)
		s.True(stored.SyncedToLedger)
		s.NotEmpty(stored.LedgerEventID)
		s.NotNil(stored.SyncedAt)
	}
}

func (s *SyncWorkerSuite) TestSyncOnceWithNothingPending() {
	synced, err := s.worker.SyncOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(synced)
}

// =============================================================================
// Retry and idempotency
// =============================================================================

func (s *SyncWorkerSuite) TestTransientFailuresAreRetried() {
	s.append("ORDER_CREATED")
	s.bridge.FailNext(2)

	synced, err := s.worker.SyncOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, synced)
	s.Equal(1, s.bridge.WrittenCount())
}

func (s *SyncWorkerSuite) TestReplayedSyncNeverDoubleWrites() {
	eventID := s.append("ORDER_SUBMITTED")

	_, err := s.bridge.WriteEvent(s.ctx, ledger.Event{
		Source:         "ops",
		EventType:      ledger.CanonicalEventType("ORDER_SUBMITTED"),
		IdempotencyKey: ledger.IdempotencyKey(eventID.String()),
		Payload:        map[string]any{},
	})
	s.Require().NoError(err)

	synced, err := s.worker.SyncOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, synced)
	s.Equal(1, s.bridge.WrittenCount())

	stored, err := s.events.GetByID(s.ctx, eventID)
	s.Require().NoError(err)
	s.True(stored.SyncedToLedger)
}

func (s *SyncWorkerSuite) TestCancelledContextStopsTheBatch() {
	s.append("MANUAL_COUNT")

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.worker.SyncOnce(ctx)
	s.Require().Error(err)
}

// =============================================================================
// Event type mapping
// =============================================================================

func TestCanonicalEventType(t *testing.T) {
	cases := map[string]string{
		"TEMPERATURE_READING": "operational.sensor.temperature",
		"INVENTORY_SCAN":      "inventory.scan",
		"ATTESTATION_ISSUED":  "attestation.issued",
		"CUSTOM_THING":        "ops.custom_thing",
	}
	for in, want := range cases {
		if got := ledger.CanonicalEventType(in); got != want {
			t.Errorf("CanonicalEventType(%q) = %q, want %q", in, got, want)
		}
	}
}
