package service

import (
	"fmt"

	"proveniq-ops/internal/trust/models"
)

// The scoring functions are pure so tier derivation is reproducible from the
// same inputs. Each returns a value clamped to [0, 1].

// scoreEvidenceQuality weights evidence by provenance: certified sensors
// count more than plain sensors, which count more than human submissions.
func scoreEvidenceQuality(stats models.EvidenceStats) float64 {
	if stats.Total == 0 {
		return 0.1
	}
	total := float64(stats.Total)
	score := float64(stats.Sensor)/total*0.3 +
		float64(stats.Certified)/total*0.4 +
		float64(stats.Hashed)/total*0.3

	// High-volume assets earn a small boost.
	if stats.Total > 100 {
		score += 0.1
	}
	return clamp01(score)
}

// scoreTelemetryContinuity penalizes coverage gaps. One multi-day gap hurts
// more than several short ones.
func scoreTelemetryContinuity(stats models.TelemetryStats) float64 {
	if stats.Total == 0 {
		return 0.1
	}

	penalty := 0.0
	if stats.GapsOver72h > 0 {
		penalty += 0.3
	}
	if stats.GapsOver24h > 2 {
		penalty += 0.2
	}

	base := 0.8
	if stats.Total <= 50 {
		base = float64(stats.Total) / 50
		if base > 0.8 {
			base = 0.8
		}
	}
	return clamp01(base - penalty)
}

// scoreHumanDiscipline rewards consistent engagement with Bishop proposals.
// Blanket acceptance scores slightly below a high-but-critical rate, since
// some rejections show the recommendations are actually being read.
func scoreHumanDiscipline(stats models.DisciplineStats) float64 {
	if stats.Total == 0 {
		return 0.5
	}
	rate := float64(stats.Accepted) / float64(stats.Total)

	var score float64
	switch {
	case rate > 0.95:
		score = 0.9
	case rate > 0.7:
		score = 0.8 + (rate-0.7)*0.5
	case rate > 0.4:
		score = 0.5 + (rate-0.4)*1.0
	default:
		score = rate * 1.25
	}
	return clamp01(score)
}

// scoreTimeInSystem grows monotonically with history length and saturates at
// 180 days.
func scoreTimeInSystem(days int) float64 {
	switch {
	case days >= 180:
		return 1.0
	case days >= 90:
		return 0.8 + float64(days-90)/90*0.2
	case days >= 30:
		return 0.5 + float64(days-30)/60*0.3
	case days >= 7:
		return 0.2 + float64(days-7)/23*0.3
	default:
		return float64(days) / 7 * 0.2
	}
}

// scoreIntegrity starts from a perfect 1.0 and subtracts capped penalties for
// open anomaly flags.
func scoreIntegrity(stats models.IntegrityStats) float64 {
	score := 1.0

	unresolvedPenalty := float64(stats.Unresolved) * 0.1
	if unresolvedPenalty > 0.4 {
		unresolvedPenalty = 0.4
	}
	score -= unresolvedPenalty

	severePenalty := float64(stats.Severe) * 0.15
	if severePenalty > 0.3 {
		severePenalty = 0.3
	}
	score -= severePenalty

	return clamp01(score)
}

// scoreToTier picks the highest tier whose score and time gates both pass.
// A high composite alone never skips the residency requirement.
func scoreToTier(composite float64, days int, t *models.Thresholds) models.Tier {
	switch {
	case composite >= t.PlatinumMin && days >= t.PlatinumMinDays:
		return models.TierPlatinum
	case composite >= t.GoldMin && days >= t.GoldMinDays:
		return models.TierGold
	case composite >= t.SilverMin && days >= t.SilverMinDays:
		return models.TierSilver
	default:
		return models.TierBronze
	}
}

func composite(scores models.DriverScores, t *models.Thresholds) float64 {
	return scores.EvidenceQuality*t.EvidenceWeight +
		scores.TelemetryContinuity*t.TelemetryWeight +
		scores.HumanDiscipline*t.DisciplineWeight +
		scores.TimeInSystem*t.TimeWeight +
		scores.Integrity*t.IntegrityWeight
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func explanationFor(tier models.Tier, days int) string {
	switch tier {
	case models.TierBronze:
		return fmt.Sprintf("This asset has been observed for %d days. Evidence relies primarily on human submissions. To increase credibility, add sensor-based telemetry and maintain consistent operational records.", days)
	case models.TierSilver:
		return fmt.Sprintf("This asset has %d days of corroborated history. Multiple evidence sources agree, but not all are independently verified. Continue building consistent records to advance.", days)
	case models.TierGold:
		return fmt.Sprintf("This asset has %d days of verified operational history. Evidence quality and operational discipline are consistently high. Maintain current practices to preserve this status.", days)
	case models.TierPlatinum:
		return fmt.Sprintf("This asset has %d days of attestable history. Operational records can be relied upon by third parties without additional verification. This is the highest level of operational credibility.", days)
	default:
		return ""
	}
}

func upgradePathFor(tier models.Tier, scores models.DriverScores, days int, t *models.Thresholds) string {
	if tier == models.TierPlatinum {
		return "This asset has achieved the highest trust tier. Maintain current operational discipline to preserve this status."
	}

	nextTier := tier + 1
	var improvements []string

	if scores.EvidenceQuality < 0.7 {
		improvements = append(improvements, "Add certified sensor evidence")
	}
	if scores.TelemetryContinuity < 0.7 {
		improvements = append(improvements, "Reduce gaps in telemetry coverage")
	}
	if scores.HumanDiscipline < 0.7 {
		improvements = append(improvements, "Respond consistently to Bishop recommendations")
	}
	if scores.Integrity < 0.9 {
		improvements = append(improvements, "Resolve outstanding anomaly flags")
	}

	switch {
	case tier == models.TierBronze && days < t.SilverMinDays:
		improvements = append(improvements, fmt.Sprintf("Continue operations for %d more days", t.SilverMinDays-days))
	case tier == models.TierSilver && days < t.GoldMinDays:
		improvements = append(improvements, fmt.Sprintf("Continue operations for %d more days", t.GoldMinDays-days))
	case tier == models.TierGold && days < t.PlatinumMinDays:
		improvements = append(improvements, fmt.Sprintf("Continue operations for %d more days", t.PlatinumMinDays-days))
	}

	if len(improvements) == 0 {
		return fmt.Sprintf("Continue current practices to advance to %s", nextTier)
	}
	out := fmt.Sprintf("To advance to %s: %s", nextTier, improvements[0])
	for _, item := range improvements[1:] {
		out += "; " + item
	}
	return out
}

func riskFactorsFor(scores models.DriverScores) []string {
	var risks []string
	if scores.EvidenceQuality < 0.4 {
		risks = append(risks, "Low evidence quality may trigger tier downgrade")
	}
	if scores.TelemetryContinuity < 0.4 {
		risks = append(risks, "Telemetry gaps detected - could impact tier")
	}
	if scores.HumanDiscipline < 0.4 {
		risks = append(risks, "Low response rate to recommendations")
	}
	if scores.Integrity < 0.7 {
		risks = append(risks, "Unresolved integrity flags present")
	}
	return risks
}
