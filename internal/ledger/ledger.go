// Package ledger bridges the event log to the external PROVENIQ Ledger for
// cryptographic write-through. The bridge is never on the append path; a
// background worker drains unsynced events and posts them with retries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is the envelope the ledger ingests.
type Event struct {
	Source         string         `json:"source"`
	EventType      string         `json:"event_type"`
	AssetID        string         `json:"asset_id,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	Payload        map[string]any `json:"payload"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Receipt is the ledger's acknowledgement of a written event.
type Receipt struct {
	LedgerEventID string `json:"id"`
	EntryHash     string `json:"entry_hash"`

	// AlreadySynced marks an idempotency conflict: the event was written
	// by a previous attempt.
	AlreadySynced bool `json:"-"`
}

// Balance is the ledger's authoritative view of available funds. The
// governance core never owns financial truth.
type Balance struct {
	AvailableMicros int64  `json:"available_micros"`
	Currency        string `json:"currency"`
}

// Bridge is the contract against the external ledger. The HTTP
// implementation talks to the real service; the memory one backs tests and
// local runs.
type Bridge interface {
	WriteEvent(ctx context.Context, event Event) (Receipt, error)
	GetEvent(ctx context.Context, ledgerEventID string) (map[string]any, error)
	CheckBalance(ctx context.Context) (Balance, error)
}

// TransientError marks a failure worth retrying: the ledger was unreachable
// or answered with a server error.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("ledger temporarily unavailable: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IdempotencyKey derives the ledger idempotency key for an ops event, so a
// replayed sync can never double-write.
func IdempotencyKey(opsEventID string) string {
	return "ops:" + opsEventID
}

// canonicalEventTypes maps ops event types to the ledger's standardized
// taxonomy. Unknown types pass through under the ops namespace.
var canonicalEventTypes = map[string]string{
	"TEMPERATURE_READING": "operational.sensor.temperature",
	"HUMIDITY_READING":    "operational.sensor.humidity",
	"DOOR_OPEN":           "operational.sensor.door_open",
	"DOOR_CLOSE":          "operational.sensor.door_close",
	"POWER_LOSS":          "operational.sensor.power_loss",
	"POWER_RESTORED":      "operational.sensor.power_restored",

	"INVENTORY_SCAN": "inventory.scan",
	"BARCODE_SCAN":   "inventory.barcode_scan",
	"MANUAL_COUNT":   "inventory.manual_count",

	"ORDER_CREATED":     "transaction.order.created",
	"ORDER_SUBMITTED":   "transaction.order.submitted",
	"ORDER_DELIVERED":   "transaction.order.delivered",
	"DELIVERY_RECEIVED": "transaction.delivery.received",

	"BISHOP_RECOMMENDATION":          "ai_decision.recommendation",
	"BISHOP_RECOMMENDATION_ACCEPTED": "ai_decision.accepted",
	"BISHOP_RECOMMENDATION_REJECTED": "ai_decision.rejected",

	"ANOMALY_DETECTED": "anomaly.detected",
	"ANOMALY_RESOLVED": "anomaly.resolved",

	"WASTE_RECORDED":     "loss.waste",
	"SHRINKAGE_DETECTED": "loss.shrinkage",

	"ATTESTATION_ISSUED":   "attestation.issued",
	"ATTESTATION_VERIFIED": "attestation.verified",
}

// CanonicalEventType translates an ops event type into the ledger taxonomy.
func CanonicalEventType(opsEventType string) string {
	if mapped, ok := canonicalEventTypes[opsEventType]; ok {
		return mapped
	}
	return "ops." + strings.ToLower(opsEventType)
}
