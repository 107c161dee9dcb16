package httpapi

import (
	"errors"
	"net/http"

	"proveniq-ops/internal/attestation"
	"proveniq-ops/internal/bishop"
	dErrors "proveniq-ops/pkg/domain-errors"
	"proveniq-ops/pkg/platform/httputil"
)

// writeError translates typed service errors before falling back to the
// coded-error mapping. Structured detail like the failed-check list stays in
// the body so clients never have to parse messages.
func writeError(w http.ResponseWriter, err error) {
	var eligibility *attestation.EligibilityError
	if errors.As(err, &eligibility) {
		code := dErrors.CodeIneligible
		httputil.WriteJSON(w, dErrors.ToHTTPStatus(code), map[string]any{
			"error":             string(code),
			"error_description": eligibility.Error(),
			"asset_id":          eligibility.AssetID.String(),
			"failed_checks":     eligibility.FailedChecks,
		})
		return
	}

	var missing *bishop.MissingDependencyError
	if errors.As(err, &missing) {
		code := dErrors.CodeInvalidInput
		httputil.WriteJSON(w, dErrors.ToHTTPStatus(code), map[string]any{
			"error":             string(code),
			"error_description": missing.Error(),
			"node_id":           missing.NodeID,
			"missing":           missing.Missing,
		})
		return
	}

	var violation *bishop.InvariantViolationError
	if errors.As(err, &violation) {
		code := dErrors.CodeIntegrity
		httputil.WriteJSON(w, dErrors.ToHTTPStatus(code), map[string]any{
			"error":             string(code),
			"error_description": violation.Error(),
			"node_id":           violation.NodeID,
		})
		return
	}

	var validation *bishop.DAGValidationError
	if errors.As(err, &validation) {
		code := dErrors.CodeInvalidInput
		httputil.WriteJSON(w, dErrors.ToHTTPStatus(code), map[string]any{
			"error":             string(code),
			"error_description": validation.Error(),
		})
		return
	}

	httputil.WriteError(w, err)
}
