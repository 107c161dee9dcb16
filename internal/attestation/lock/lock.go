// Package lock provides the per-scope mutual exclusion required during
// attestation issuance: one (asset, type, window) scope may have at most one
// in-flight issuance.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	attmodels "proveniq-ops/internal/attestation/models"
	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/sentinel"
)

// Scope identifies the exclusive issuance unit.
type Scope struct {
	AssetID     id.AssetID
	Type        attmodels.Type
	WindowStart time.Time
	WindowEnd   time.Time
}

// Key renders the scope as a stable lock key.
func (s Scope) Key() string {
	return fmt.Sprintf("ops:attest:lock:%s:%s:%d:%d",
		s.AssetID, s.Type, s.WindowStart.UTC().Unix(), s.WindowEnd.UTC().Unix())
}

// Locker serializes issuance per scope. Acquire returns
// sentinel.ErrConflict when the scope is already held.
type Locker interface {
	Acquire(ctx context.Context, scope Scope) (release func(), err error)
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory constructs a process-local scope locker.
func NewMemory() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, scope Scope) (func(), error) {
	key := scope.Key()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, sentinel.ErrConflict
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
