package service

import (
	"fmt"
	"strings"

	"proveniq-ops/internal/bishop/models"
	dErrors "proveniq-ops/pkg/domain-errors"
)

// DAGValidationError reports a broken declaration or a handler that does not
// match it. Fatal at load or registration time.
type DAGValidationError struct {
	Message string
}

func (e *DAGValidationError) Error() string {
	return "dag validation: " + e.Message
}

func validationErrorf(format string, args ...any) error {
	return &DAGValidationError{Message: fmt.Sprintf(format, args...)}
}

// MissingDependencyError reports a node executed before its upstream outputs
// or required context keys exist. The caller must re-sequence.
type MissingDependencyError struct {
	NodeID  string
	Missing []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("node %s missing dependencies: %s", e.NodeID, strings.Join(e.Missing, ", "))
}

// InvariantViolationError reports handler output that breaks a declared
// invariant. The node is marked failed; the output is never cached.
type InvariantViolationError struct {
	NodeID    string
	Invariant models.Invariant
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("node %s violated invariant on %q: %s", e.NodeID, e.Invariant.Then.Field, e.Detail)
}

// ErrNodeNotRegistered signals execution of a declared node that has no
// runtime handler.
var ErrNodeNotRegistered = dErrors.New(dErrors.CodeInvalidInput, "no handler registered for node")
