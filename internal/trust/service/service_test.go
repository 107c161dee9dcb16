package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"proveniq-ops/internal/downstream"
	"proveniq-ops/internal/trust/models"
	"proveniq-ops/internal/trust/store"
	id "proveniq-ops/pkg/domain"
)

// stubStats returns fixed driver inputs so tier transitions can be staged
// precisely without building event histories.
type stubStats struct {
	evidence   models.EvidenceStats
	telemetry  models.TelemetryStats
	discipline models.DisciplineStats
	integrity  models.IntegrityStats
	firstEvent *time.Time
}

func (s *stubStats) EvidenceStats(context.Context, id.AssetID, time.Time) (models.EvidenceStats, error) {
	return s.evidence, nil
}

func (s *stubStats) TelemetryStats(context.Context, id.AssetID, time.Time) (models.TelemetryStats, error) {
	return s.telemetry, nil
}

func (s *stubStats) DisciplineStats(context.Context, id.AssetID, id.OrgID, time.Time) (models.DisciplineStats, error) {
	return s.discipline, nil
}

func (s *stubStats) IntegrityStats(context.Context, id.AssetID, id.OrgID, time.Time) (models.IntegrityStats, error) {
	return s.integrity, nil
}

func (s *stubStats) HistoryBounds(context.Context, id.AssetID) (models.HistoryBounds, error) {
	return models.HistoryBounds{FirstEventAt: s.firstEvent, LastEventAt: s.firstEvent}, nil
}

// =============================================================================
// Trust Tier Service Test Suite
// =============================================================================

type TrustServiceSuite struct {
	suite.Suite
	stats      *stubStats
	tiers      *store.MemoryTierStore
	waivers    *store.MemoryWaiverStore
	thresholds *store.MemoryThresholdStore
	notifier   *downstream.MemoryNotifier
	now        time.Time
	service    *Service
}

func TestTrustServiceSuite(t *testing.T) {
	suite.Run(t, new(TrustServiceSuite))
}

func (s *TrustServiceSuite) SetupTest() {
	s.stats = &stubStats{}
	s.tiers = store.NewMemoryTiers()
	s.waivers = store.NewMemoryWaivers()
	s.thresholds = store.NewMemoryThresholds()
	s.notifier = downstream.NewMemoryNotifier()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.service = New(s.stats, s.tiers, s.waivers, s.thresholds,
		WithClock(func() time.Time { return s.now }),
		WithNotifier(s.notifier))
}

// seedStrongHistory configures stats that yield a composite above the
// PLATINUM score gate.
func (s *TrustServiceSuite) seedStrongHistory(daysAgo int) {
	first := s.now.AddDate(0, 0, -daysAgo)
	s.stats.firstEvent = &first
	s.stats.evidence = models.EvidenceStats{Total: 200, Sensor: 200, Certified: 200, Hashed: 200}
	s.stats.telemetry = models.TelemetryStats{Total: 200}
	s.stats.discipline = models.DisciplineStats{Total: 100, Accepted: 90}
	s.stats.integrity = models.IntegrityStats{}
}

func (s *TrustServiceSuite) TestTimeGatingHoldsWithHighScore() {
	ctx := context.Background()
	assetID := id.NewAssetID()
	orgID := id.NewOrgID()

	// Three days in system: composite is well above the SILVER minimum but
	// the residency gate keeps the asset at BRONZE.
	s.seedStrongHistory(3)
	result, err := s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)
	s.Greater(result.Scores.Composite, models.DefaultThresholds().SilverMin)
	s.Equal(models.TierBronze, result.Tier)

	s.seedStrongHistory(10)
	result, err = s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)
	s.Equal(models.TierSilver, result.Tier)

	s.seedStrongHistory(120)
	result, err = s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)
	s.Equal(models.TierPlatinum, result.Tier)
	s.Equal("PLATINUM", result.TierName)
	s.NotEmpty(result.Explanation)
}

func (s *TrustServiceSuite) TestHistoryWrittenOnlyOnChange() {
	ctx := context.Background()
	assetID := id.NewAssetID()
	orgID := id.NewOrgID()

	s.seedStrongHistory(120)
	_, err := s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)

	// Recalculate with the same inputs; the clock must advance so the
	// write is not discarded as stale.
	s.now = s.now.Add(time.Hour)
	s.seedStrongHistory(120)
	_, err = s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)

	history, err := s.service.GetHistory(ctx, assetID, 10)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(models.ChangeInitial, history[0].ChangeType)
}

func (s *TrustServiceSuite) TestDowngradeRecordedWhenInputsDegrade() {
	ctx := context.Background()
	assetID := id.NewAssetID()
	orgID := id.NewOrgID()

	s.seedStrongHistory(120)
	_, err := s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)

	// Telemetry collapses and integrity flags pile up.
	s.now = s.now.Add(time.Hour)
	s.stats.telemetry = models.TelemetryStats{Total: 5, GapsOver24h: 4, GapsOver72h: 2}
	s.stats.integrity = models.IntegrityStats{Unresolved: 6, Severe: 3}
	result, err := s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)
	s.Less(result.Tier, models.TierPlatinum)
	s.NotEmpty(result.RiskFactors)

	history, err := s.service.GetHistory(ctx, assetID, 10)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(models.ChangeDowngrade, history[0].ChangeType)
	s.Require().NotNil(history[0].PreviousTier)
	s.Equal(models.TierPlatinum, *history[0].PreviousTier)
}

func (s *TrustServiceSuite) TestTierChangesNotifyDownstream() {
	ctx := context.Background()
	assetID := id.NewAssetID()
	orgID := id.NewOrgID()

	s.seedStrongHistory(120)
	_, err := s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)

	// Unchanged recalculation publishes nothing.
	s.now = s.now.Add(time.Hour)
	_, err = s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)

	notes := s.notifier.TierChanges()
	s.Require().Len(notes, 1)
	s.Equal(assetID.String(), notes[0].AssetID)
	s.Equal(models.TierPlatinum.String(), notes[0].NewTier)
	s.Equal(string(models.ChangeInitial), notes[0].ChangeType)
	s.Empty(notes[0].PreviousTier)

	s.now = s.now.Add(time.Hour)
	s.stats.telemetry = models.TelemetryStats{Total: 5, GapsOver24h: 4, GapsOver72h: 2}
	s.stats.integrity = models.IntegrityStats{Unresolved: 6, Severe: 3}
	_, err = s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)

	notes = s.notifier.TierChanges()
	s.Require().Len(notes, 2)
	s.Equal(string(models.ChangeDowngrade), notes[1].ChangeType)
	s.Equal(models.TierPlatinum.String(), notes[1].PreviousTier)
}

func (s *TrustServiceSuite) TestWaiverCapsTier() {
	ctx := context.Background()
	assetID := id.NewAssetID()
	orgID := id.NewOrgID()

	s.seedStrongHistory(120)
	s.waivers.Add(&models.Waiver{
		AssetID: assetID,
		TierCap: models.TierSilver,
		Type:    "sensor_calibration",
		Reason:  "probe recalibration overdue",
		Status:  "active",
	})

	result, err := s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)
	s.Equal(models.TierSilver, result.Tier)
	s.Require().NotNil(result.TierCap)
	s.Equal(models.TierSilver, *result.TierCap)
	s.Contains(result.TierCapReason, "sensor_calibration")

	// Expiring the waiver restores the earned tier and records the removal.
	s.now = s.now.Add(time.Hour)
	s.waivers.Expire(assetID)
	result, err = s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)
	s.Equal(models.TierPlatinum, result.Tier)
	s.Nil(result.TierCap)

	history, err := s.service.GetHistory(ctx, assetID, 10)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(models.ChangeUpgrade, history[0].ChangeType)
}

func (s *TrustServiceSuite) TestStaleResultNeverOverwritesFresher() {
	ctx := context.Background()
	assetID := id.NewAssetID()
	orgID := id.NewOrgID()

	s.seedStrongHistory(120)
	fresh, err := s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)
	s.Equal(models.TierPlatinum, fresh.Tier)

	// A calculation from an earlier read commits after the fresher one.
	s.now = s.now.Add(-2 * time.Hour)
	s.stats.telemetry = models.TelemetryStats{Total: 2, GapsOver72h: 3}
	_, err = s.service.CalculateTier(ctx, assetID, orgID)
	s.Require().NoError(err)

	stored, err := s.service.GetTier(ctx, assetID)
	s.Require().NoError(err)
	s.Equal(models.TierPlatinum, stored.Tier)
	s.Equal(fresh.CalculatedAt, stored.CalculatedAt)

	// And no history entry was appended for the discarded write.
	history, err := s.service.GetHistory(ctx, assetID, 10)
	s.Require().NoError(err)
	s.Len(history, 1)
}

func (s *TrustServiceSuite) TestDistributionIncludesEmptyTiers() {
	ctx := context.Background()
	orgID := id.NewOrgID()

	s.seedStrongHistory(10)
	_, err := s.service.CalculateTier(ctx, id.NewAssetID(), orgID)
	s.Require().NoError(err)

	distribution, err := s.service.GetDistribution(ctx, orgID)
	s.Require().NoError(err)
	s.Equal(int64(1), distribution["SILVER"])
	s.Equal(int64(0), distribution["PLATINUM"])
	s.Len(distribution, 4)
}
