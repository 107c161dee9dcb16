package models

import (
	"time"

	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
)

// Tier is an earned credibility level. Tiers are derived from operational
// behavior over time; they are never set manually and never tied to price.
type Tier int

const (
	TierBronze   Tier = 1 // Observed
	TierSilver   Tier = 2 // Corroborated
	TierGold     Tier = 3 // Verified
	TierPlatinum Tier = 4 // Attestable
)

var tierNames = map[Tier]string{
	TierBronze:   "BRONZE",
	TierSilver:   "SILVER",
	TierGold:     "GOLD",
	TierPlatinum: "PLATINUM",
}

var tierMeanings = map[Tier]string{
	TierBronze:   "Observed - verification relies heavily on humans",
	TierSilver:   "Corroborated - multiple signals agree, but not all are controlled",
	TierGold:     "Verified - evidence quality and operational discipline are consistently high",
	TierPlatinum: "Attestable - operational history can be relied upon by third parties",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Meaning returns the plain-language definition of the tier.
func (t Tier) Meaning() string {
	return tierMeanings[t]
}

// ParseTier converts a stored tier name back to its level.
func ParseTier(name string) (Tier, error) {
	for tier, n := range tierNames {
		if n == name {
			return tier, nil
		}
	}
	return 0, dErrors.Newf(dErrors.CodeInvalidInput, "unknown trust tier %q", name)
}

// ChangeType classifies a TierHistory entry.
type ChangeType string

const (
	ChangeInitial       ChangeType = "initial"
	ChangeUpgrade       ChangeType = "upgrade"
	ChangeDowngrade     ChangeType = "downgrade"
	ChangeRecalculation ChangeType = "recalculation"
	ChangeCapApplied    ChangeType = "cap_applied"
	ChangeCapRemoved    ChangeType = "cap_removed"
)

// Thresholds is the versioned score/time gate table. Weights must sum to 1.0.
type Thresholds struct {
	Version string `json:"version"`

	BronzeMin   float64 `json:"bronze_min"`
	SilverMin   float64 `json:"silver_min"`
	GoldMin     float64 `json:"gold_min"`
	PlatinumMin float64 `json:"platinum_min"`

	EvidenceWeight   float64 `json:"evidence_weight"`
	TelemetryWeight  float64 `json:"telemetry_weight"`
	DisciplineWeight float64 `json:"discipline_weight"`
	TimeWeight       float64 `json:"time_weight"`
	IntegrityWeight  float64 `json:"integrity_weight"`

	SilverMinDays   int `json:"silver_min_days"`
	GoldMinDays     int `json:"gold_min_days"`
	PlatinumMinDays int `json:"platinum_min_days"`
}

// DefaultThresholds returns the baseline threshold table used when no
// versioned row is active.
func DefaultThresholds() *Thresholds {
	return &Thresholds{
		Version:          "1.0.0",
		BronzeMin:        0.0,
		SilverMin:        0.30,
		GoldMin:          0.60,
		PlatinumMin:      0.85,
		EvidenceWeight:   0.25,
		TelemetryWeight:  0.25,
		DisciplineWeight: 0.20,
		TimeWeight:       0.15,
		IntegrityWeight:  0.15,
		SilverMinDays:    7,
		GoldMinDays:      30,
		PlatinumMinDays:  90,
	}
}

// Validate rejects threshold tables whose weights do not sum to 1.0.
func (t *Thresholds) Validate() error {
	sum := t.EvidenceWeight + t.TelemetryWeight + t.DisciplineWeight + t.TimeWeight + t.IntegrityWeight
	const epsilon = 1e-9
	if sum < 1.0-epsilon || sum > 1.0+epsilon {
		return dErrors.Newf(dErrors.CodeInvalidInput, "driver weights must sum to 1.0, got %.6f", sum)
	}
	if t.Version == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "thresholds version is required")
	}
	return nil
}

// DriverScores holds the five per-driver scores plus the weighted composite,
// all in [0, 1].
type DriverScores struct {
	EvidenceQuality     float64 `json:"evidence_quality"`
	TelemetryContinuity float64 `json:"telemetry_continuity"`
	HumanDiscipline     float64 `json:"human_discipline"`
	TimeInSystem        float64 `json:"time_in_system"`
	Integrity           float64 `json:"integrity"`
	Composite           float64 `json:"composite"`
}

// Result is one tier calculation for an asset.
type Result struct {
	AssetID     id.AssetID   `json:"asset_id"`
	OrgID       id.OrgID     `json:"org_id"`
	Tier        Tier         `json:"tier"`
	TierName    string       `json:"tier_name"`
	TierMeaning string       `json:"tier_meaning"`
	Scores      DriverScores `json:"scores"`

	Explanation string   `json:"explanation"`
	UpgradePath string   `json:"upgrade_path"`
	RiskFactors []string `json:"risk_factors"`

	TierCap       *Tier  `json:"tier_cap,omitempty"`
	TierCapReason string `json:"tier_cap_reason,omitempty"`

	FirstEventAt *time.Time `json:"first_event_at,omitempty"`
	LastEventAt  *time.Time `json:"last_event_at,omitempty"`
	DaysInSystem int        `json:"days_in_system"`

	CalculatedAt      time.Time `json:"calculated_at"`
	ThresholdsVersion string    `json:"thresholds_version"`
}

// HistoryEntry records one tier transition. Appended only when the tier or
// an active cap actually changes.
type HistoryEntry struct {
	AssetID      id.AssetID   `json:"asset_id"`
	OrgID        id.OrgID     `json:"org_id"`
	PreviousTier *Tier        `json:"previous_tier,omitempty"`
	NewTier      Tier         `json:"new_tier"`
	ChangeType   ChangeType   `json:"change_type"`
	ChangeReason string       `json:"change_reason"`
	Scores       DriverScores `json:"scores"`
	RecordedAt   time.Time    `json:"recorded_at"`
}

// Waiver caps an asset's tier while a known deficiency is tolerated.
type Waiver struct {
	AssetID   id.AssetID `json:"asset_id"`
	TierCap   Tier       `json:"tier_cap"`
	Type      string     `json:"waiver_type"`
	Reason    string     `json:"waiver_reason"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// EvidenceStats summarizes evidence-bearing events over the scoring window.
type EvidenceStats struct {
	Total     int64
	Sensor    int64
	Certified int64
	Hashed    int64
}

// TelemetryStats summarizes inter-event gaps over the scoring window.
type TelemetryStats struct {
	Total       int64
	GapsOver24h int64
	GapsOver72h int64
}

// DisciplineStats summarizes Bishop recommendation outcomes.
type DisciplineStats struct {
	Total    int64
	Accepted int64
	Rejected int64
}

// IntegrityStats counts open anomaly flags.
type IntegrityStats struct {
	Unresolved int64
	Severe     int64
}

// HistoryBounds captures the first and last event timestamps for an asset.
type HistoryBounds struct {
	FirstEventAt *time.Time
	LastEventAt  *time.Time
}
