// Package downstream notifies read-only consumers about governance changes.
// Consumers never write back: they react to tier changes and fresh
// attestations published on Kafka. Publishing is asynchronous and
// best-effort; it never blocks or fails a governance operation.
package downstream

import (
	"context"
	"time"
)

// Topics carrying governance notifications.
const (
	TopicTierChanged       = "ops.tier.changed"
	TopicAttestationIssued = "ops.attestation.issued"
)

// TierChange announces that an asset's trust tier moved.
type TierChange struct {
	AssetID        string    `json:"asset_id"`
	OrgID          string    `json:"org_id"`
	PreviousTier   string    `json:"previous_tier,omitempty"`
	NewTier        string    `json:"new_tier"`
	ChangeType     string    `json:"change_type"`
	CompositeScore float64   `json:"composite_score"`
	CalculatedAt   time.Time `json:"calculated_at"`
}

// AttestationIssued announces a freshly signed attestation.
type AttestationIssued struct {
	AttestationID   string    `json:"attestation_id"`
	AssetID         string    `json:"asset_id"`
	AttestationType string    `json:"attestation_type"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	VerificationURL string    `json:"verification_url"`
}

// Notifier fans governance changes out to downstream consumers. Calls must
// not block on broker round trips and must swallow delivery failures.
type Notifier interface {
	TierChanged(ctx context.Context, note TierChange)
	AttestationIssued(ctx context.Context, note AttestationIssued)
}

// Noop discards all notifications, used when no brokers are configured.
type Noop struct{}

func (Noop) TierChanged(context.Context, TierChange) {}

func (Noop) AttestationIssued(context.Context, AttestationIssued) {}
