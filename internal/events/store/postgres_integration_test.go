//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"proveniq-ops/internal/events"
	"proveniq-ops/internal/events/store"
	id "proveniq-ops/pkg/domain"
)

type PostgresStoreSuite struct {
	suite.Suite

	ctx       context.Context
	container *tcpostgres.PostgresContainer
	db        *sql.DB
	svc       *events.Service
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcpostgres.Run(s.ctx, "postgres:16-alpine",
		tcpostgres.WithInitScripts(filepath.Join("..", "..", "..", "migrations", "001_init.sql")),
		tcpostgres.WithDatabase("ops"),
		tcpostgres.WithUsername("ops"),
		tcpostgres.WithPassword("ops"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sql.Open("postgres", dsn)
	s.Require().NoError(err)
	s.Require().NoError(db.PingContext(s.ctx))
	s.db = db
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, `TRUNCATE ops_events`)
	s.Require().NoError(err)
	s.svc = events.New(store.NewPostgres(s.db))
}

func (s *PostgresStoreSuite) TestAppendBuildsTheChain() {
	assetID := id.NewAssetID()

	var last string
	for i := 0; i < 3; i++ {
		event, err := s.svc.Append(s.ctx, events.AppendInput{
			EventType: "INVENTORY_SCAN",
			AssetID:   assetID,
			Payload:   map[string]any{"count": i},
		})
		s.Require().NoError(err)
		s.Equal(int64(i+1), event.AggregateVersion)
		if i > 0 {
			s.Equal(last, event.PrevEventHash)
		}
		last = event.EventHash
	}

	report, err := s.svc.VerifyChain(s.ctx, assetID)
	s.Require().NoError(err)
	s.Equal("VALID", string(report.Status))
	s.Equal(3, report.Length)
}

func (s *PostgresStoreSuite) TestIdempotentReplayReturnsTheStoredEvent() {
	assetID := id.NewAssetID()
	in := events.AppendInput{
		EventType:      "ORDER_SUBMITTED",
		AssetID:        assetID,
		Payload:        map[string]any{"total": 42},
		IdempotencyKey: "order-42",
	}

	first, err := s.svc.Append(s.ctx, in)
	s.Require().NoError(err)
	second, err := s.svc.Append(s.ctx, in)
	s.Require().NoError(err)
	s.Equal(first.EventID, second.EventID)
	s.Equal(int64(1), second.AggregateVersion)
}

func (s *PostgresStoreSuite) TestRoundTripPreservesPayloadAndTimes() {
	assetID := id.NewAssetID()
	event, err := s.svc.Append(s.ctx, events.AppendInput{
		EventType:     "TEMPERATURE_READING",
		AssetID:       assetID,
		CorrelationID: "batch-7",
		Payload:       map[string]any{"celsius": 4.5, "sensor": "s-1"},
	})
	s.Require().NoError(err)

	stored, err := s.svc.GetByID(s.ctx, event.EventID)
	s.Require().NoError(err)
	s.Equal(event.EventHash, stored.EventHash)
	s.Equal("batch-7", stored.CorrelationID)
	s.InDelta(4.5, stored.Payload["celsius"], 1e-9)
	s.WithinDuration(event.Timestamp, stored.Timestamp, time.Millisecond)
}

func (s *PostgresStoreSuite) TestUnsyncedLifecycle() {
	assetID := id.NewAssetID()
	event, err := s.svc.Append(s.ctx, events.AppendInput{
		EventType: "INVENTORY_SCAN",
		AssetID:   assetID,
		Payload:   map[string]any{"count": 1},
	})
	s.Require().NoError(err)

	pending, err := s.svc.GetUnsynced(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(event.EventID, pending[0].EventID)

	s.Require().NoError(s.svc.MarkSynced(s.ctx, event.EventID, "led-1"))

	pending, err = s.svc.GetUnsynced(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)

	stored, err := s.svc.GetByID(s.ctx, event.EventID)
	s.Require().NoError(err)
	s.True(stored.SyncedToLedger)
	s.Equal("led-1", stored.LedgerEventID)
	s.NotNil(stored.SyncedAt)
}
