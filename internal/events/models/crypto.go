package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"proveniq-ops/pkg/platform/canonical"
)

// HashPayload computes the SHA-256 digest of the canonical JSON encoding of
// data, prefixed with the algorithm so stored hashes are self-describing.
func HashPayload(data any) (string, error) {
	raw, err := canonical.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// hashDocument is the exact set of fields bound into an event hash. Changing
// any of them after append breaks chain verification for that asset.
type hashDocument struct {
	EventID          string         `json:"event_id"`
	EventType        string         `json:"event_type"`
	Timestamp        string         `json:"timestamp"`
	AssetID          string         `json:"asset_id"`
	AggregateVersion int64          `json:"aggregate_version"`
	Payload          map[string]any `json:"payload"`
	PrevEventHash    string         `json:"prev_event_hash"`
}

// ComputeEventHash derives the chained hash for e. The previous event's hash
// is folded in via e.PrevEventHash, so any historical mutation cascades into
// a mismatch at the first altered link.
func ComputeEventHash(e *Event) (string, error) {
	doc := hashDocument{
		EventID:          e.EventID.String(),
		EventType:        e.EventType,
		Timestamp:        e.Timestamp.UTC().Format(time.RFC3339Nano),
		AssetID:          e.AssetID.String(),
		AggregateVersion: e.AggregateVersion,
		Payload:          e.Payload,
		PrevEventHash:    e.PrevEventHash,
	}
	raw, err := canonical.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("compute event hash: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
