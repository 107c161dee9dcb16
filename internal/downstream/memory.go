package downstream

import (
	"context"
	"sync"
)

// MemoryNotifier records notifications for tests and local runs.
type MemoryNotifier struct {
	mu           sync.Mutex
	tierChanges  []TierChange
	attestations []AttestationIssued
}

// NewMemoryNotifier creates an empty recording notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) TierChanged(_ context.Context, note TierChange) {
	n.mu.Lock()
	n.tierChanges = append(n.tierChanges, note)
	n.mu.Unlock()
}

func (n *MemoryNotifier) AttestationIssued(_ context.Context, note AttestationIssued) {
	n.mu.Lock()
	n.attestations = append(n.attestations, note)
	n.mu.Unlock()
}

// TierChanges returns the recorded tier notifications.
func (n *MemoryNotifier) TierChanges() []TierChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]TierChange, len(n.tierChanges))
	copy(out, n.tierChanges)
	return out
}

// Attestations returns the recorded attestation notifications.
func (n *MemoryNotifier) Attestations() []AttestationIssued {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]AttestationIssued, len(n.attestations))
	copy(out, n.attestations)
	return out
}
