// Package audittrace records every proposal, override, block, and execution
// in the decision pipeline as immutable audit records.
package audittrace

import (
	"proveniq-ops/internal/audittrace/service"
)

// Service is the audit trail facade.
type Service = service.Service

// Store persists audit records.
type Store = service.Store

// Input types for the logging operations.
type (
	ProposalInput  = service.ProposalInput
	DecisionInput  = service.DecisionInput
	OverrideInput  = service.OverrideInput
	BlockInput     = service.BlockInput
	ExecutionInput = service.ExecutionInput
)

// Option configures the service.
type Option = service.Option

var (
	WithLogger = service.WithLogger
	WithClock  = service.WithClock
)

// New constructs the audit trace service.
func New(store Store, opts ...Option) *Service {
	return service.New(store, opts...)
}
