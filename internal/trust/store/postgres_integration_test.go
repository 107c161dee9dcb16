//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"proveniq-ops/internal/trust/models"
	"proveniq-ops/internal/trust/store"
	id "proveniq-ops/pkg/domain"
)

type PostgresTierStoreSuite struct {
	suite.Suite

	ctx       context.Context
	container *tcpostgres.PostgresContainer
	db        *sql.DB
	tiers     *store.PostgresTierStore
}

func TestPostgresTierStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresTierStoreSuite))
}

func (s *PostgresTierStoreSuite) SetupSuite() {
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

func (s *PostgresTierStoreSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresTierStoreSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, `TRUNCATE asset_trust_tiers, trust_tier_history`)
	s.Require().NoError(err)
	s.tiers = store.NewPostgresTiers(s.db)
}

func tierResult(assetID id.AssetID, orgID id.OrgID, tier models.Tier, calculatedAt time.Time) *models.Result {
	return &models.Result{
		AssetID: assetID,
		OrgID:   orgID,
		Tier:    tier,
		Scores: models.DriverScores{
			EvidenceQuality:     0.7,
			TelemetryContinuity: 0.6,
			HumanDiscipline:     0.5,
			TimeInSystem:        0.4,
			Integrity:           1.0,
			Composite:           0.64,
		},
		Explanation:       "test calculation",
		UpgradePath:       "none",
		RiskFactors:       []string{},
		DaysInSystem:      12,
		CalculatedAt:      calculatedAt,
		ThresholdsVersion: "1.0.0",
	}
}

func (s *PostgresTierStoreSuite) TestSaveIfNewerKeepsTheNewestRow() {
	assetID := id.NewAssetID()
	orgID := id.NewOrgID()
	base := time.Now().UTC().Truncate(time.Millisecond)

	previous, applied, err := s.tiers.SaveIfNewer(s.ctx,
		tierResult(assetID, orgID, models.TierGold, base))
	s.Require().NoError(err)
	s.True(applied)
	s.Nil(previous)

	// A stale recalculation must not overwrite the newer row.
	previous, applied, err = s.tiers.SaveIfNewer(s.ctx,
		tierResult(assetID, orgID, models.TierBronze, base.Add(-time.Minute)))
	s.Require().NoError(err)
	s.False(applied)
	s.Require().NotNil(previous)
	s.Equal(models.TierGold, previous.Tier)

	current, err := s.tiers.Current(s.ctx, assetID)
	s.Require().NoError(err)
	s.Equal(models.TierGold, current.Tier)
	s.WithinDuration(base, current.CalculatedAt, time.Millisecond)
}

func (s *PostgresTierStoreSuite) TestConcurrentFirstWritesKeepTheNewest() {
	assetID := id.NewAssetID()
	orgID := id.NewOrgID()
	base := time.Now().UTC().Truncate(time.Millisecond)

	older := tierResult(assetID, orgID, models.TierBronze, base.Add(-time.Minute))
	newer := tierResult(assetID, orgID, models.TierPlatinum, base)

	// Both writers see an empty table, so whichever loses the insert race
	// lands on the conflict path and must not clobber the newer row.
	var wg sync.WaitGroup
	for _, result := range []*models.Result{older, newer} {
		wg.Add(1)
		go func(r *models.Result) {
			defer wg.Done()
			_, _, err := s.tiers.SaveIfNewer(s.ctx, r)
			s.NoError(err)
		}(result)
	}
	wg.Wait()

	current, err := s.tiers.Current(s.ctx, assetID)
	s.Require().NoError(err)
	s.Equal(models.TierPlatinum, current.Tier)
	s.WithinDuration(base, current.CalculatedAt, time.Millisecond)
}
