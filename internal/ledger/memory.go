package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"

	dErrors "proveniq-ops/pkg/domain-errors"
)

// MemoryBridge simulates the ledger for tests and local runs. The balance is
// configurable so fund-gate scenarios can be exercised deterministically.
type MemoryBridge struct {
	mu       sync.Mutex
	byKey    map[string]Receipt
	events   map[string]Event
	balance  Balance
	failures int
}

// NewMemoryBridge creates a mock ledger with the given starting balance.
func NewMemoryBridge(availableMicros int64) *MemoryBridge {
	return &MemoryBridge{
		byKey:  make(map[string]Receipt),
		events: make(map[string]Event),
		balance: Balance{
			AvailableMicros: availableMicros,
			Currency:        "USD",
		},
	}
}

func (b *MemoryBridge) WriteEvent(_ context.Context, event Event) (Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures > 0 {
		b.failures--
		return Receipt{}, &TransientError{Err: fmt.Errorf("injected failure")}
	}

	if receipt, ok := b.byKey[event.IdempotencyKey]; ok {
		receipt.AlreadySynced = true
		return receipt, nil
	}

	sum := sha256.Sum256([]byte(event.IdempotencyKey + event.EventType))
	receipt := Receipt{
		LedgerEventID: uuid.NewString(),
		EntryHash:     hex.EncodeToString(sum[:]),
	}
	b.byKey[event.IdempotencyKey] = receipt
	b.events[receipt.LedgerEventID] = event
	return receipt, nil
}

func (b *MemoryBridge) GetEvent(_ context.Context, ledgerEventID string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	event, ok := b.events[ledgerEventID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "ledger event not found")
	}
	return map[string]any{
		"id":         ledgerEventID,
		"source":     event.Source,
		"event_type": event.EventType,
		"payload":    event.Payload,
	}, nil
}

func (b *MemoryBridge) CheckBalance(_ context.Context) (Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

// SetBalance adjusts the mock balance, used by tests.
func (b *MemoryBridge) SetBalance(availableMicros int64) {
	b.mu.Lock()
	b.balance.AvailableMicros = availableMicros
	b.mu.Unlock()
}

// FailNext makes the next n writes fail with a transient error, used by
// tests to exercise the retry path.
func (b *MemoryBridge) FailNext(n int) {
	b.mu.Lock()
	b.failures = n
	b.mu.Unlock()
}

// WrittenCount reports how many distinct events the mock holds.
func (b *MemoryBridge) WrittenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
