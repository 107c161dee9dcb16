package store

import (
	"context"
	"time"

	eventsservice "proveniq-ops/internal/events/service"
	"proveniq-ops/internal/trust/models"
	id "proveniq-ops/pkg/domain"
)

// Event types the scoring inputs are derived from.
const (
	EventRecommendationAccepted = "ops.bishop.recommendation_accepted"
	EventRecommendationRejected = "ops.bishop.recommendation_rejected"
	EventAnomalyDetected        = "ops.anomaly.detected"
	EventAnomalyResolved        = "ops.anomaly.resolved"
)

const statsQueryLimit = 10000

// EventLogStats derives every trust driver input from the event log itself,
// so the scoring inputs carry the same integrity guarantees as the chain.
// Works against any event store implementation.
type EventLogStats struct {
	events eventsservice.Store
}

// NewEventLogStats constructs a stats provider backed by the event log.
func NewEventLogStats(events eventsservice.Store) *EventLogStats {
	return &EventLogStats{events: events}
}

func (s *EventLogStats) EvidenceStats(ctx context.Context, assetID id.AssetID, since time.Time) (models.EvidenceStats, error) {
	var stats models.EvidenceStats
	chain, err := s.events.Chain(ctx, assetID)
	if err != nil {
		return stats, err
	}
	for _, event := range chain {
		if event.Timestamp.Before(since) {
			continue
		}
		stats.Total++
		switch event.Payload["evidence_type"] {
		case "sensor":
			stats.Sensor++
		case "certified":
			stats.Certified++
		}
		if event.PayloadHash != "" {
			stats.Hashed++
		}
	}
	return stats, nil
}

func (s *EventLogStats) TelemetryStats(ctx context.Context, assetID id.AssetID, since time.Time) (models.TelemetryStats, error) {
	var stats models.TelemetryStats
	chain, err := s.events.Chain(ctx, assetID)
	if err != nil {
		return stats, err
	}

	var prev *time.Time
	for _, event := range chain {
		if event.Timestamp.Before(since) {
			continue
		}
		ts := event.Timestamp
		if prev != nil {
			stats.Total++
			gap := ts.Sub(*prev)
			if gap > 24*time.Hour {
				stats.GapsOver24h++
			}
			if gap > 72*time.Hour {
				stats.GapsOver72h++
			}
		}
		prev = &ts
	}
	return stats, nil
}

func (s *EventLogStats) DisciplineStats(ctx context.Context, assetID id.AssetID, orgID id.OrgID, since time.Time) (models.DisciplineStats, error) {
	var stats models.DisciplineStats

	accepted, err := s.recommendationEvents(ctx, EventRecommendationAccepted, assetID, orgID, since)
	if err != nil {
		return stats, err
	}
	rejected, err := s.recommendationEvents(ctx, EventRecommendationRejected, assetID, orgID, since)
	if err != nil {
		return stats, err
	}

	stats.Accepted = accepted
	stats.Rejected = rejected
	stats.Total = accepted + rejected
	return stats, nil
}

func (s *EventLogStats) recommendationEvents(ctx context.Context, eventType string, assetID id.AssetID, orgID id.OrgID, since time.Time) (int64, error) {
	events, err := s.events.FindByType(ctx, eventType, &since, nil, statsQueryLimit)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, event := range events {
		if payloadMatches(event.Payload, "asset_id", assetID.String()) ||
			payloadMatches(event.Payload, "org_id", orgID.String()) {
			count++
		}
	}
	return count, nil
}

func (s *EventLogStats) IntegrityStats(ctx context.Context, assetID id.AssetID, orgID id.OrgID, since time.Time) (models.IntegrityStats, error) {
	var stats models.IntegrityStats

	detected, err := s.events.FindByType(ctx, EventAnomalyDetected, &since, nil, statsQueryLimit)
	if err != nil {
		return stats, err
	}
	resolved, err := s.events.FindByType(ctx, EventAnomalyResolved, nil, nil, statsQueryLimit)
	if err != nil {
		return stats, err
	}

	resolvedIDs := make(map[string]struct{}, len(resolved))
	for _, event := range resolved {
		if anomalyID, ok := event.Payload["anomaly_id"].(string); ok {
			resolvedIDs[anomalyID] = struct{}{}
		}
	}

	for _, event := range detected {
		if !payloadMatches(event.Payload, "asset_id", assetID.String()) &&
			!payloadMatches(event.Payload, "org_id", orgID.String()) {
			continue
		}
		anomalyID, _ := event.Payload["anomaly_id"].(string)
		if _, ok := resolvedIDs[anomalyID]; ok {
			continue
		}
		stats.Unresolved++
		if severity, _ := event.Payload["severity"].(string); severity == "high" || severity == "critical" {
			stats.Severe++
		}
	}
	return stats, nil
}

func (s *EventLogStats) HistoryBounds(ctx context.Context, assetID id.AssetID) (models.HistoryBounds, error) {
	chain, err := s.events.Chain(ctx, assetID)
	if err != nil {
		return models.HistoryBounds{}, err
	}
	if len(chain) == 0 {
		return models.HistoryBounds{}, nil
	}

	first := chain[0].Timestamp
	last := chain[0].Timestamp
	for _, event := range chain[1:] {
		if event.Timestamp.Before(first) {
			first = event.Timestamp
		}
		if event.Timestamp.After(last) {
			last = event.Timestamp
		}
	}
	return models.HistoryBounds{FirstEventAt: &first, LastEventAt: &last}, nil
}

func payloadMatches(payload map[string]any, key, value string) bool {
	v, ok := payload[key].(string)
	return ok && v == value
}
