/*
errors.go - Workflow error taxonomy

SEE ALSO:
  - ledger/errors.go: balance errors pass through unchanged
*/
package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the application does not exist.
	ErrNotFound = errors.New("application not found")

	// ErrUnauthorized means the actor may not perform the transition.
	ErrUnauthorized = errors.New("actor not authorized for this transition")

	// ErrInvalidTransition means the application's current status does not
	// allow the requested transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPolicyViolation means the submission breaks a leave type rule
	// (inactive type, missing reason or documentation, empty range).
	ErrPolicyViolation = errors.New("policy violation")

	// ErrInvalidDateRange means EndDate precedes StartDate.
	ErrInvalidDateRange = errors.New("end date precedes start date")
)

// InvalidTransitionError reports the state that blocked a transition.
type InvalidTransitionError struct {
	From   Status
	Action Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s an application in status %q", e.Action, e.From)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// PolicyViolationError carries the specific rule that was broken.
type PolicyViolationError struct {
	Detail string
}

func (e *PolicyViolationError) Error() string {
	return "policy violation: " + e.Detail
}

func (e *PolicyViolationError) Unwrap() error {
	return ErrPolicyViolation
}
