package events

import (
	"proveniq-ops/internal/events/service"
)

// Service is the append-only, hash-chained event log.
type Service = service.Service

// Store is the persistence contract the service runs against.
type Store = service.Store

// AppendInput carries the caller-supplied portion of a new event.
type AppendInput = service.AppendInput

// ChainIntegrityError reports a detected hash-chain break.
type ChainIntegrityError = service.ChainIntegrityError

// ErrWriteConflict signals exhausted optimistic-concurrency retries.
var ErrWriteConflict = service.ErrWriteConflict

// Option configures the service.
type Option = service.Option

var (
	WithLogger  = service.WithLogger
	WithMetrics = service.WithMetrics
	WithSigner  = service.WithSigner
	WithClock   = service.WithClock
)

// New constructs the event log service.
func New(store Store, opts ...Option) *Service {
	return service.New(store, opts...)
}
