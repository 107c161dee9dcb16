package trust

import (
	"proveniq-ops/internal/trust/service"
)

// Service derives trust tiers from operational history.
type Service = service.Service

// StatsProvider supplies scoring inputs derived from the event log.
type StatsProvider = service.StatsProvider

// TierStore persists tier results and change history.
type TierStore = service.TierStore

// WaiverStore reports active tier caps.
type WaiverStore = service.WaiverStore

// ThresholdStore resolves the active versioned threshold table.
type ThresholdStore = service.ThresholdStore

// Option configures the service.
type Option = service.Option

var (
	WithLogger   = service.WithLogger
	WithMetrics  = service.WithMetrics
	WithClock    = service.WithClock
	WithNotifier = service.WithNotifier
)

// New constructs the trust tier service.
func New(stats StatsProvider, tiers TierStore, waivers WaiverStore, thresholds ThresholdStore, opts ...Option) *Service {
	return service.New(stats, tiers, waivers, thresholds, opts...)
}
