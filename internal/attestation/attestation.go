package attestation

import (
	"proveniq-ops/internal/attestation/keys"
	"proveniq-ops/internal/attestation/lock"
	"proveniq-ops/internal/attestation/service"
)

// Service issues and verifies signed, time-bound attestations.
type Service = service.Service

// Store is the persistence contract the service runs against.
type Store = service.Store

// EligibilityError reports the named checks that blocked issuance.
type EligibilityError = service.EligibilityError

// ErrDuplicateAttestation signals a second issuance for a covered scope.
var ErrDuplicateAttestation = service.ErrDuplicateAttestation

// Option configures the service.
type Option = service.Option

var (
	WithLogger   = service.WithLogger
	WithMetrics  = service.WithMetrics
	WithClock    = service.WithClock
	WithNotifier = service.WithNotifier
)

// New constructs the attestation service.
func New(store Store, tiers service.TierReader, events service.EventLog, integrity service.IntegrityChecker, waivers service.WaiverChecker, keyManager *keys.Manager, locks lock.Locker, opts ...Option) *Service {
	return service.New(store, tiers, events, integrity, waivers, keyManager, locks, opts...)
}
