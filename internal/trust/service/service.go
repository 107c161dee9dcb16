package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"proveniq-ops/internal/downstream"
	"proveniq-ops/internal/trust/metrics"
	"proveniq-ops/internal/trust/models"
	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
	"proveniq-ops/pkg/platform/sentinel"
)

// Scoring windows. Evidence, discipline and integrity look back 90 days;
// telemetry gaps are judged over the most recent 30.
const (
	evidenceWindow  = 90 * 24 * time.Hour
	telemetryWindow = 30 * 24 * time.Hour
)

// StatsProvider supplies the per-driver input statistics derived from the
// event log and anomaly records.
type StatsProvider interface {
	EvidenceStats(ctx context.Context, assetID id.AssetID, since time.Time) (models.EvidenceStats, error)
	TelemetryStats(ctx context.Context, assetID id.AssetID, since time.Time) (models.TelemetryStats, error)
	DisciplineStats(ctx context.Context, assetID id.AssetID, orgID id.OrgID, since time.Time) (models.DisciplineStats, error)
	IntegrityStats(ctx context.Context, assetID id.AssetID, orgID id.OrgID, since time.Time) (models.IntegrityStats, error)
	HistoryBounds(ctx context.Context, assetID id.AssetID) (models.HistoryBounds, error)
}

// TierStore persists tier results and their change history.
type TierStore interface {
	Current(ctx context.Context, assetID id.AssetID) (*models.Result, error)
	// SaveIfNewer applies the result only when its calculated_at is newer
	// than the stored row, returning the previous result and whether the
	// write was applied. A stale result must never clobber a fresher one.
	SaveIfNewer(ctx context.Context, result *models.Result) (previous *models.Result, applied bool, err error)
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	History(ctx context.Context, assetID id.AssetID, limit int) ([]*models.HistoryEntry, error)
	Distribution(ctx context.Context, orgID id.OrgID) (map[string]int64, error)
}

// WaiverStore reports active tier caps.
type WaiverStore interface {
	// ActiveCap returns the most restrictive active waiver for the asset,
	// or sentinel.ErrNotFound when none applies.
	ActiveCap(ctx context.Context, assetID id.AssetID, now time.Time) (*models.Waiver, error)
}

// ThresholdStore resolves the active versioned threshold table.
type ThresholdStore interface {
	Active(ctx context.Context) (*models.Thresholds, error)
}

// Service derives trust tiers from operational history. Tiers are earned,
// never set, and degrade automatically when their inputs degrade.
type Service struct {
	stats      StatsProvider
	tiers      TierStore
	waivers    WaiverStore
	thresholds ThresholdStore
	logger     *slog.Logger
	metrics    *metrics.Metrics
	notifier   downstream.Notifier
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier publishes tier changes to downstream consumers.
func WithNotifier(n downstream.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// New constructs a Service.
func New(stats StatsProvider, tiers TierStore, waivers WaiverStore, thresholds ThresholdStore, opts ...Option) *Service {
	s := &Service{
		stats:      stats,
		tiers:      tiers,
		waivers:    waivers,
		thresholds: thresholds,
		logger:     slog.Default(),
		tracer:     otel.Tracer("proveniq-ops/trust"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetThresholds returns the active versioned threshold table, validated.
func (s *Service) GetThresholds(ctx context.Context) (*models.Thresholds, error) {
	t, err := s.thresholds.Active(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.DefaultThresholds(), nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load thresholds")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// CalculateTier recomputes an asset's trust tier from its event history and
// persists the result. Concurrent recalculations resolve by calculated_at,
// so a stale read never overwrites a fresher committed result.
func (s *Service) CalculateTier(ctx context.Context, assetID id.AssetID, orgID id.OrgID) (*models.Result, error) {
	ctx, span := s.tracer.Start(ctx, "trust.calculate_tier",
		trace.WithAttributes(attribute.String("asset_id", assetID.String())))
	defer span.End()

	if assetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "asset_id is required")
	}

	thresholds, err := s.GetThresholds(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	scores, bounds, days, err := s.computeScores(ctx, assetID, orgID, now)
	if err != nil {
		return nil, err
	}
	scores.Composite = composite(scores, thresholds)

	tier := scoreToTier(scores.Composite, days, thresholds)

	result := &models.Result{
		AssetID:           assetID,
		OrgID:             orgID,
		Tier:              tier,
		Scores:            scores,
		FirstEventAt:      bounds.FirstEventAt,
		LastEventAt:       bounds.LastEventAt,
		DaysInSystem:      days,
		CalculatedAt:      now,
		ThresholdsVersion: thresholds.Version,
	}

	if err := s.applyCap(ctx, result, now); err != nil {
		return nil, err
	}

	result.TierName = result.Tier.String()
	result.TierMeaning = result.Tier.Meaning()
	result.Explanation = explanationFor(result.Tier, days)
	result.UpgradePath = upgradePathFor(result.Tier, scores, days, thresholds)
	result.RiskFactors = riskFactorsFor(scores)

	if err := s.persist(ctx, result); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "trust tier calculated",
		"asset_id", assetID,
		"tier", result.TierName,
		"composite", fmt.Sprintf("%.4f", scores.Composite),
		"days_in_system", days)
	if s.metrics != nil {
		s.metrics.IncrementCalculations(result.TierName)
	}
	return result, nil
}

func (s *Service) computeScores(ctx context.Context, assetID id.AssetID, orgID id.OrgID, now time.Time) (models.DriverScores, models.HistoryBounds, int, error) {
	var scores models.DriverScores

	evidence, err := s.stats.EvidenceStats(ctx, assetID, now.Add(-evidenceWindow))
	if err != nil {
		return scores, models.HistoryBounds{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load evidence stats")
	}
	telemetry, err := s.stats.TelemetryStats(ctx, assetID, now.Add(-telemetryWindow))
	if err != nil {
		return scores, models.HistoryBounds{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load telemetry stats")
	}
	discipline, err := s.stats.DisciplineStats(ctx, assetID, orgID, now.Add(-evidenceWindow))
	if err != nil {
		return scores, models.HistoryBounds{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load discipline stats")
	}
	integrity, err := s.stats.IntegrityStats(ctx, assetID, orgID, now.Add(-evidenceWindow))
	if err != nil {
		return scores, models.HistoryBounds{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load integrity stats")
	}
	bounds, err := s.stats.HistoryBounds(ctx, assetID)
	if err != nil {
		return scores, models.HistoryBounds{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load history bounds")
	}

	days := 0
	if bounds.FirstEventAt != nil {
		days = int(now.Sub(bounds.FirstEventAt.UTC()).Hours() / 24)
	}

	scores.EvidenceQuality = scoreEvidenceQuality(evidence)
	scores.TelemetryContinuity = scoreTelemetryContinuity(telemetry)
	scores.HumanDiscipline = scoreHumanDiscipline(discipline)
	scores.TimeInSystem = scoreTimeInSystem(days)
	scores.Integrity = scoreIntegrity(integrity)
	return scores, bounds, days, nil
}

func (s *Service) applyCap(ctx context.Context, result *models.Result, now time.Time) error {
	waiver, err := s.waivers.ActiveCap(ctx, result.AssetID, now)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tier cap")
	}

	cap := waiver.TierCap
	result.TierCap = &cap
	result.TierCapReason = fmt.Sprintf("%s: %s", waiver.Type, waiver.Reason)
	if result.Tier > cap {
		result.Tier = cap
	}
	return nil
}

// persist saves the result and appends a history entry when the tier or an
// active cap changed. Stale results are dropped without history noise.
func (s *Service) persist(ctx context.Context, result *models.Result) error {
	previous, applied, err := s.tiers.SaveIfNewer(ctx, result)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save tier result")
	}
	if !applied {
		s.logger.DebugContext(ctx, "stale tier calculation discarded",
			"asset_id", result.AssetID, "calculated_at", result.CalculatedAt)
		return nil
	}

	entry := s.historyEntry(previous, result)
	if entry == nil {
		return nil
	}
	if err := s.tiers.AppendHistory(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append tier history")
	}
	if s.metrics != nil {
		s.metrics.IncrementTierChanges(string(entry.ChangeType))
	}
	if s.notifier != nil {
		note := downstream.TierChange{
			AssetID:        result.AssetID.String(),
			OrgID:          result.OrgID.String(),
			NewTier:        result.Tier.String(),
			ChangeType:     string(entry.ChangeType),
			CompositeScore: result.Scores.Composite,
			CalculatedAt:   result.CalculatedAt,
		}
		if entry.PreviousTier != nil {
			note.PreviousTier = entry.PreviousTier.String()
		}
		s.notifier.TierChanged(ctx, note)
	}
	return nil
}

func (s *Service) historyEntry(previous, result *models.Result) *models.HistoryEntry {
	entry := &models.HistoryEntry{
		AssetID:    result.AssetID,
		OrgID:      result.OrgID,
		NewTier:    result.Tier,
		Scores:     result.Scores,
		RecordedAt: result.CalculatedAt,
	}

	switch {
	case previous == nil:
		entry.ChangeType = models.ChangeInitial
		entry.ChangeReason = fmt.Sprintf("Initial tier assignment: %s", result.Tier)
	case previous.Tier != result.Tier:
		prev := previous.Tier
		entry.PreviousTier = &prev
		if result.Tier > previous.Tier {
			entry.ChangeType = models.ChangeUpgrade
			entry.ChangeReason = fmt.Sprintf("Upgraded from %s to %s", previous.Tier, result.Tier)
		} else {
			entry.ChangeType = models.ChangeDowngrade
			entry.ChangeReason = fmt.Sprintf("Downgraded from %s to %s", previous.Tier, result.Tier)
		}
	case previous.TierCap == nil && result.TierCap != nil:
		prev := previous.Tier
		entry.PreviousTier = &prev
		entry.ChangeType = models.ChangeCapApplied
		entry.ChangeReason = fmt.Sprintf("Tier cap applied: %s", result.TierCapReason)
	case previous.TierCap != nil && result.TierCap == nil:
		prev := previous.Tier
		entry.PreviousTier = &prev
		entry.ChangeType = models.ChangeCapRemoved
		entry.ChangeReason = "Tier cap removed"
	case previous.ThresholdsVersion != result.ThresholdsVersion:
		prev := previous.Tier
		entry.PreviousTier = &prev
		entry.ChangeType = models.ChangeRecalculation
		entry.ChangeReason = fmt.Sprintf("Recalculated under thresholds %s", result.ThresholdsVersion)
	default:
		// Same tier, same cap state, same thresholds. No history row.
		return nil
	}
	return entry
}

// GetTier returns the most recently persisted tier for an asset.
func (s *Service) GetTier(ctx context.Context, assetID id.AssetID) (*models.Result, error) {
	result, err := s.tiers.Current(ctx, assetID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no trust tier calculated for asset")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load trust tier")
	}
	return result, nil
}

// GetHistory returns the tier change log for an asset, newest first.
func (s *Service) GetHistory(ctx context.Context, assetID id.AssetID, limit int) ([]*models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.tiers.History(ctx, assetID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tier history")
	}
	return entries, nil
}

// GetDistribution returns per-tier asset counts for an org, with zero rows
// for tiers no asset currently holds.
func (s *Service) GetDistribution(ctx context.Context, orgID id.OrgID) (map[string]int64, error) {
	counts, err := s.tiers.Distribution(ctx, orgID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tier distribution")
	}
	distribution := map[string]int64{"BRONZE": 0, "SILVER": 0, "GOLD": 0, "PLATINUM": 0}
	for name, count := range counts {
		distribution[name] = count
	}
	return distribution, nil
}
