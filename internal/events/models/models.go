package models

import (
	"time"

	id "proveniq-ops/pkg/domain"
)

// SourceApp and SchemaVersion stamp every event envelope so downstream
// consumers can route and parse without guessing.
const (
	SourceApp     = "OPS"
	SchemaVersion = "1.0"
)

// GenesisHash anchors the first event of every asset chain.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// ChainStatus reports the outcome of a chain verification pass.
type ChainStatus string

const (
	ChainStatusValid   ChainStatus = "VALID"
	ChainStatusInvalid ChainStatus = "INVALID"
	ChainStatusEmpty   ChainStatus = "EMPTY"
)

// Event is one append-only record in the hash-chained log. Once inserted it
// is never mutated, except for the ledger sync bookkeeping fields.
type Event struct {
	EventID          id.EventID     `json:"event_id"`
	EventType        string         `json:"event_type"`
	Timestamp        time.Time      `json:"timestamp"`
	AssetID          id.AssetID     `json:"asset_id,omitempty"`
	CorrelationID    string         `json:"correlation_id"`
	IdempotencyKey   string         `json:"idempotency_key"`
	Payload          map[string]any `json:"payload"`
	PayloadHash      string         `json:"payload_hash"`
	PrevEventHash    string         `json:"prev_event_hash"`
	EventHash        string         `json:"event_hash"`
	Signature        string         `json:"signature,omitempty"`
	AggregateVersion int64          `json:"aggregate_version"`
	SourceApp        string         `json:"source_app"`
	Version          string         `json:"version"`

	SyncedToLedger bool       `json:"synced_to_ledger"`
	LedgerEventID  string     `json:"ledger_event_id,omitempty"`
	SyncedAt       *time.Time `json:"synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ChainReport is the result of verifying one asset's event chain.
type ChainReport struct {
	AssetID       id.AssetID  `json:"asset_id"`
	Status        ChainStatus `json:"chain_status"`
	Length        int         `json:"length"`
	CheckedAt     time.Time   `json:"checked_at"`
	BrokenAt      *int64      `json:"broken_at,omitempty"`
	BrokenEventID *id.EventID `json:"broken_event_id,omitempty"`
	Reason        string      `json:"reason,omitempty"`
}

// TimelineFilter narrows a forensic timeline query. All fields optional.
type TimelineFilter struct {
	AssetID    id.AssetID
	LocationID string
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// SearchFilter narrows a payload-content search.
type SearchFilter struct {
	Query      string
	EventTypes []string
	Since      *time.Time
	Limit      int
}
