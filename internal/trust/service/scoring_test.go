package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"proveniq-ops/internal/trust/models"
)

func TestScoreEvidenceQuality(t *testing.T) {
	t.Run("no events scores baseline", func(t *testing.T) {
		assert.InDelta(t, 0.1, scoreEvidenceQuality(models.EvidenceStats{}), 1e-9)
	})

	t.Run("all certified and hashed scores high", func(t *testing.T) {
		score := scoreEvidenceQuality(models.EvidenceStats{Total: 50, Certified: 50, Hashed: 50})
		assert.InDelta(t, 0.7, score, 1e-9)
	})

	t.Run("volume boost applies over 100 events", func(t *testing.T) {
		base := scoreEvidenceQuality(models.EvidenceStats{Total: 100, Sensor: 100, Hashed: 100})
		boosted := scoreEvidenceQuality(models.EvidenceStats{Total: 101, Sensor: 101, Hashed: 101})
		assert.InDelta(t, base+0.1, boosted, 1e-9)
	})

	t.Run("never exceeds one", func(t *testing.T) {
		score := scoreEvidenceQuality(models.EvidenceStats{Total: 200, Sensor: 200, Certified: 200, Hashed: 200})
		assert.LessOrEqual(t, score, 1.0)
	})
}

func TestScoreTelemetryContinuity(t *testing.T) {
	t.Run("no events scores baseline", func(t *testing.T) {
		assert.InDelta(t, 0.1, scoreTelemetryContinuity(models.TelemetryStats{}), 1e-9)
	})

	t.Run("dense history without gaps scores base", func(t *testing.T) {
		score := scoreTelemetryContinuity(models.TelemetryStats{Total: 100})
		assert.InDelta(t, 0.8, score, 1e-9)
	})

	t.Run("a multi-day gap costs more than several short ones", func(t *testing.T) {
		long := scoreTelemetryContinuity(models.TelemetryStats{Total: 100, GapsOver24h: 1, GapsOver72h: 1})
		short := scoreTelemetryContinuity(models.TelemetryStats{Total: 100, GapsOver24h: 3})
		assert.Less(t, long, short)
	})

	t.Run("stacked penalties floor at zero", func(t *testing.T) {
		score := scoreTelemetryContinuity(models.TelemetryStats{Total: 5, GapsOver24h: 4, GapsOver72h: 2})
		assert.GreaterOrEqual(t, score, 0.0)
	})
}

func TestScoreHumanDiscipline(t *testing.T) {
	t.Run("no recommendations is neutral", func(t *testing.T) {
		assert.InDelta(t, 0.5, scoreHumanDiscipline(models.DisciplineStats{}), 1e-9)
	})

	t.Run("blanket acceptance scores below critical engagement", func(t *testing.T) {
		blanket := scoreHumanDiscipline(models.DisciplineStats{Total: 100, Accepted: 100})
		engaged := scoreHumanDiscipline(models.DisciplineStats{Total: 100, Accepted: 90})
		assert.Less(t, blanket, engaged)
	})

	t.Run("ignoring recommendations scores low", func(t *testing.T) {
		score := scoreHumanDiscipline(models.DisciplineStats{Total: 100, Accepted: 10})
		assert.InDelta(t, 0.125, score, 1e-9)
	})
}

func TestScoreTimeInSystem(t *testing.T) {
	cases := []struct {
		days int
		want float64
	}{
		{0, 0},
		{7, 0.2},
		{30, 0.5},
		{90, 0.8},
		{180, 1.0},
		{400, 1.0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, scoreTimeInSystem(tc.days), 1e-9, "days=%d", tc.days)
	}

	// Monotonic between anchor points.
	prev := 0.0
	for days := 0; days <= 200; days++ {
		score := scoreTimeInSystem(days)
		assert.GreaterOrEqual(t, score, prev, "days=%d", days)
		prev = score
	}
}

func TestScoreIntegrity(t *testing.T) {
	t.Run("clean record is perfect", func(t *testing.T) {
		assert.InDelta(t, 1.0, scoreIntegrity(models.IntegrityStats{}), 1e-9)
	})

	t.Run("unresolved penalty is capped", func(t *testing.T) {
		assert.InDelta(t, 0.6, scoreIntegrity(models.IntegrityStats{Unresolved: 10}), 1e-9)
	})

	t.Run("severe flags cost extra, also capped", func(t *testing.T) {
		assert.InDelta(t, 0.3, scoreIntegrity(models.IntegrityStats{Unresolved: 10, Severe: 5}), 1e-9)
	})
}

func TestScoreToTier(t *testing.T) {
	thresholds := models.DefaultThresholds()

	t.Run("time gate holds even with a perfect score", func(t *testing.T) {
		assert.Equal(t, models.TierBronze, scoreToTier(1.0, 3, thresholds))
		assert.Equal(t, models.TierSilver, scoreToTier(1.0, 10, thresholds))
		assert.Equal(t, models.TierGold, scoreToTier(1.0, 45, thresholds))
		assert.Equal(t, models.TierPlatinum, scoreToTier(1.0, 90, thresholds))
	})

	t.Run("score gate holds regardless of tenure", func(t *testing.T) {
		assert.Equal(t, models.TierBronze, scoreToTier(0.2, 365, thresholds))
		assert.Equal(t, models.TierSilver, scoreToTier(0.45, 365, thresholds))
		assert.Equal(t, models.TierGold, scoreToTier(0.7, 365, thresholds))
	})
}

func TestThresholdValidation(t *testing.T) {
	valid := models.DefaultThresholds()
	assert.NoError(t, valid.Validate())

	broken := models.DefaultThresholds()
	broken.EvidenceWeight = 0.5
	assert.Error(t, broken.Validate())
}
