package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"proveniq-ops/internal/trust/models"
	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/sentinel"
)

// PostgresTierStore persists tier results in asset_trust_tiers and the
// change log in trust_tier_history.
type PostgresTierStore struct {
	db *sql.DB
}

// NewPostgresTiers constructs a PostgreSQL-backed tier store.
func NewPostgresTiers(db *sql.DB) *PostgresTierStore {
	return &PostgresTierStore{db: db}
}

func (s *PostgresTierStore) Current(ctx context.Context, assetID id.AssetID) (*models.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset_id, org_id, tier, evidence_quality_score, telemetry_continuity_score,
		       human_discipline_score, time_in_system_score, integrity_score, composite_score,
		       explanation, upgrade_path, risk_factors, tier_cap, tier_cap_reason,
		       first_event_at, last_event_at, days_in_system, calculated_at, thresholds_version
		FROM asset_trust_tiers
		WHERE asset_id = $1`, assetID.String())
	return scanResult(row)
}

func (s *PostgresTierStore) SaveIfNewer(ctx context.Context, result *models.Result) (*models.Result, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tier save: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT asset_id, org_id, tier, evidence_quality_score, telemetry_continuity_score,
		       human_discipline_score, time_in_system_score, integrity_score, composite_score,
		       explanation, upgrade_path, risk_factors, tier_cap, tier_cap_reason,
		       first_event_at, last_event_at, days_in_system, calculated_at, thresholds_version
		FROM asset_trust_tiers
		WHERE asset_id = $1
		FOR UPDATE`, result.AssetID.String())

	previous, err := scanResult(row)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, err
	}

	if previous != nil && !previous.CalculatedAt.Before(result.CalculatedAt) {
		return previous, false, nil
	}

	riskFactors, err := json.Marshal(result.RiskFactors)
	if err != nil {
		return nil, false, fmt.Errorf("marshal risk factors: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO asset_trust_tiers (
			asset_id, org_id, tier, evidence_quality_score, telemetry_continuity_score,
			human_discipline_score, time_in_system_score, integrity_score, composite_score,
			explanation, upgrade_path, risk_factors, tier_cap, tier_cap_reason,
			first_event_at, last_event_at, days_in_system, calculated_at, thresholds_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (asset_id) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			tier = EXCLUDED.tier,
			evidence_quality_score = EXCLUDED.evidence_quality_score,
			telemetry_continuity_score = EXCLUDED.telemetry_continuity_score,
			human_discipline_score = EXCLUDED.human_discipline_score,
			time_in_system_score = EXCLUDED.time_in_system_score,
			integrity_score = EXCLUDED.integrity_score,
			composite_score = EXCLUDED.composite_score,
			explanation = EXCLUDED.explanation,
			upgrade_path = EXCLUDED.upgrade_path,
			risk_factors = EXCLUDED.risk_factors,
			tier_cap = EXCLUDED.tier_cap,
			tier_cap_reason = EXCLUDED.tier_cap_reason,
			first_event_at = EXCLUDED.first_event_at,
			last_event_at = EXCLUDED.last_event_at,
			days_in_system = EXCLUDED.days_in_system,
			calculated_at = EXCLUDED.calculated_at,
			thresholds_version = EXCLUDED.thresholds_version
			WHERE asset_trust_tiers.calculated_at < EXCLUDED.calculated_at`,
		result.AssetID.String(),
		result.OrgID.String(),
		int(result.Tier),
		result.Scores.EvidenceQuality,
		result.Scores.TelemetryContinuity,
		result.Scores.HumanDiscipline,
		result.Scores.TimeInSystem,
		result.Scores.Integrity,
		result.Scores.Composite,
		result.Explanation,
		result.UpgradePath,
		riskFactors,
		nullTier(result.TierCap),
		nullStr(result.TierCapReason),
		nullTimePtr(result.FirstEventAt),
		nullTimePtr(result.LastEventAt),
		result.DaysInSystem,
		result.CalculatedAt,
		result.ThresholdsVersion,
	)
	if err != nil {
		return nil, false, fmt.Errorf("save tier result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("save tier result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit tier save: %w", err)
	}

	// A concurrent first write can land between the row lock attempt and the
	// insert. The staleness guard on the upsert turns the losing write into a
	// no-op; report the row that actually won.
	if affected == 0 {
		current, err := s.Current(ctx, result.AssetID)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	return previous, true, nil
}

func (s *PostgresTierStore) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_tier_history (
			asset_id, org_id, previous_tier, new_tier, change_type, change_reason,
			evidence_quality_score, telemetry_continuity_score, human_discipline_score,
			time_in_system_score, integrity_score, composite_score, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.AssetID.String(),
		entry.OrgID.String(),
		nullTier(entry.PreviousTier),
		int(entry.NewTier),
		string(entry.ChangeType),
		entry.ChangeReason,
		entry.Scores.EvidenceQuality,
		entry.Scores.TelemetryContinuity,
		entry.Scores.HumanDiscipline,
		entry.Scores.TimeInSystem,
		entry.Scores.Integrity,
		entry.Scores.Composite,
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append tier history: %w", err)
	}
	return nil
}

func (s *PostgresTierStore) History(ctx context.Context, assetID id.AssetID, limit int) ([]*models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, org_id, previous_tier, new_tier, change_type, change_reason,
		       evidence_quality_score, telemetry_continuity_score, human_discipline_score,
		       time_in_system_score, integrity_score, composite_score, recorded_at
		FROM trust_tier_history
		WHERE asset_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, assetID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query tier history: %w", err)
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		var (
			entry        models.HistoryEntry
			assetIDStr   string
			orgIDStr     string
			previousTier sql.NullInt64
			newTier      int
			changeType   string
		)
		err := rows.Scan(
			&assetIDStr, &orgIDStr, &previousTier, &newTier, &changeType, &entry.ChangeReason,
			&entry.Scores.EvidenceQuality, &entry.Scores.TelemetryContinuity,
			&entry.Scores.HumanDiscipline, &entry.Scores.TimeInSystem,
			&entry.Scores.Integrity, &entry.Scores.Composite, &entry.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tier history: %w", err)
		}
		if entry.AssetID, err = id.ParseAssetID(assetIDStr); err != nil {
			return nil, fmt.Errorf("parse stored asset id: %w", err)
		}
		if entry.OrgID, err = id.ParseOrgID(orgIDStr); err != nil {
			return nil, fmt.Errorf("parse stored org id: %w", err)
		}
		if previousTier.Valid {
			tier := models.Tier(previousTier.Int64)
			entry.PreviousTier = &tier
		}
		entry.NewTier = models.Tier(newTier)
		entry.ChangeType = models.ChangeType(changeType)
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func (s *PostgresTierStore) Distribution(ctx context.Context, orgID id.OrgID) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, COUNT(*)
		FROM asset_trust_tiers
		WHERE org_id = $1
		GROUP BY tier`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("query tier distribution: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var tier int
		var count int64
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("scan tier distribution: %w", err)
		}
		counts[models.Tier(tier).String()] = count
	}
	return counts, rows.Err()
}

// PostgresWaiverStore reads active security waivers.
type PostgresWaiverStore struct {
	db *sql.DB
}

// NewPostgresWaivers constructs a PostgreSQL-backed waiver store.
func NewPostgresWaivers(db *sql.DB) *PostgresWaiverStore {
	return &PostgresWaiverStore{db: db}
}

func (s *PostgresWaiverStore) ActiveCap(ctx context.Context, assetID id.AssetID, now time.Time) (*models.Waiver, error) {
	var (
		waiver    models.Waiver
		tierCap   int
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tier_cap, waiver_type, waiver_reason, status, expires_at
		FROM security_waivers
		WHERE asset_id = $1
		  AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY tier_cap ASC
		LIMIT 1`, assetID.String(), now).
		Scan(&tierCap, &waiver.Type, &waiver.Reason, &waiver.Status, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active waiver: %w", err)
	}

	waiver.AssetID = assetID
	waiver.TierCap = models.Tier(tierCap)
	if expiresAt.Valid {
		at := expiresAt.Time
		waiver.ExpiresAt = &at
	}
	return &waiver, nil
}

// PostgresThresholdStore resolves the active versioned threshold table.
type PostgresThresholdStore struct {
	db *sql.DB
}

// NewPostgresThresholds constructs a PostgreSQL-backed threshold store.
func NewPostgresThresholds(db *sql.DB) *PostgresThresholdStore {
	return &PostgresThresholdStore{db: db}
}

func (s *PostgresThresholdStore) Active(ctx context.Context) (*models.Thresholds, error) {
	var t models.Thresholds
	err := s.db.QueryRowContext(ctx, `
		SELECT version, bronze_min, silver_min, gold_min, platinum_min,
		       evidence_weight, telemetry_weight, discipline_weight, time_weight, integrity_weight,
		       silver_min_days, gold_min_days, platinum_min_days
		FROM trust_tier_thresholds
		WHERE effective_until IS NULL OR effective_until > NOW()
		ORDER BY effective_from DESC
		LIMIT 1`).
		Scan(&t.Version, &t.BronzeMin, &t.SilverMin, &t.GoldMin, &t.PlatinumMin,
			&t.EvidenceWeight, &t.TelemetryWeight, &t.DisciplineWeight, &t.TimeWeight, &t.IntegrityWeight,
			&t.SilverMinDays, &t.GoldMinDays, &t.PlatinumMinDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active thresholds: %w", err)
	}
	return &t, nil
}

func scanResult(row *sql.Row) (*models.Result, error) {
	var (
		result       models.Result
		assetIDStr   string
		orgIDStr     string
		tier         int
		riskFactors  []byte
		tierCap      sql.NullInt64
		capReason    sql.NullString
		firstEventAt sql.NullTime
		lastEventAt  sql.NullTime
	)
	err := row.Scan(
		&assetIDStr, &orgIDStr, &tier,
		&result.Scores.EvidenceQuality, &result.Scores.TelemetryContinuity,
		&result.Scores.HumanDiscipline, &result.Scores.TimeInSystem,
		&result.Scores.Integrity, &result.Scores.Composite,
		&result.Explanation, &result.UpgradePath, &riskFactors,
		&tierCap, &capReason, &firstEventAt, &lastEventAt,
		&result.DaysInSystem, &result.CalculatedAt, &result.ThresholdsVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tier result: %w", err)
	}

	if result.AssetID, err = id.ParseAssetID(assetIDStr); err != nil {
		return nil, fmt.Errorf("parse stored asset id: %w", err)
	}
	if result.OrgID, err = id.ParseOrgID(orgIDStr); err != nil {
		return nil, fmt.Errorf("parse stored org id: %w", err)
	}
	result.Tier = models.Tier(tier)
	result.TierName = result.Tier.String()
	result.TierMeaning = result.Tier.Meaning()
	if len(riskFactors) > 0 {
		if err := json.Unmarshal(riskFactors, &result.RiskFactors); err != nil {
			return nil, fmt.Errorf("unmarshal risk factors: %w", err)
		}
	}
	if tierCap.Valid {
		cap := models.Tier(tierCap.Int64)
		result.TierCap = &cap
	}
	result.TierCapReason = capReason.String
	if firstEventAt.Valid {
		at := firstEventAt.Time
		result.FirstEventAt = &at
	}
	if lastEventAt.Valid {
		at := lastEventAt.Time
		result.LastEventAt = &at
	}
	return &result, nil
}

func nullTier(tier *models.Tier) sql.NullInt64 {
	if tier == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*tier), Valid: true}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
