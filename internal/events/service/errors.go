package service

import (
	"fmt"

	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
)

// ErrWriteConflict is returned when optimistic-concurrency retries on an
// asset's tail are exhausted.
var ErrWriteConflict = dErrors.New(dErrors.CodeConflict, "event append retries exhausted")

// ChainIntegrityError reports a hash-chain mismatch found by verification.
// Further appends for the asset are refused until ReconcileAsset is called.
type ChainIntegrityError struct {
	AssetID          id.AssetID
	AggregateVersion int64
	Reason           string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain integrity violation for asset %s at version %d: %s",
		e.AssetID, e.AggregateVersion, e.Reason)
}
