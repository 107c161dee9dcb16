package service

import (
	"fmt"
	"strings"

	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
)

// EligibilityError carries the structured list of failed checks when an
// issuance request is refused. The happy "asset is simply not eligible"
// path goes through CheckEligibility and is not an error at all.
type EligibilityError struct {
	AssetID      id.AssetID
	FailedChecks []string
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("asset %s is not eligible: %s", e.AssetID, strings.Join(e.FailedChecks, ", "))
}

// ErrDuplicateAttestation signals a second issuance request for a scope that
// already holds a valid attestation or has one in flight.
var ErrDuplicateAttestation = dErrors.New(dErrors.CodeConflict,
	"a valid attestation already exists for this asset, type and time window")
