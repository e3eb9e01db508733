/*
errors.go - Ledger error taxonomy

PURPOSE:
  Sentinel errors for the ledger package plus structured error types that
  carry enough context for callers (and the API layer) to build useful
  messages. Structured errors implement Unwrap so errors.Is works against
  the sentinels.

SEE ALSO:
  - service.go: where these are returned
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINELS
// =============================================================================

var (
	// ErrInsufficientBalance means a requested usage exceeds the remaining
	// balance and no admin override was given.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateOperation means an idempotent operation was repeated in a
	// way the caller must be told about (e.g. reversing twice).
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrNotFound means a referenced balance key, entry or leave type does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrReasonRequired means an admin adjustment was posted without a
	// human-readable justification.
	ErrReasonRequired = errors.New("adjustment reason required")

	// ErrInvalidEntry means an entry failed structural validation before
	// reaching the store.
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientBalanceError reports exactly how short a balance is.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.Key, e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// Shortfall returns how many days are missing.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// DuplicateOperationError identifies the idempotency key that collided.
type DuplicateOperationError struct {
	IdempotencyKey string
}

func (e *DuplicateOperationError) Error() string {
	return fmt.Sprintf("duplicate operation: %s already posted", e.IdempotencyKey)
}

func (e *DuplicateOperationError) Unwrap() error {
	return ErrDuplicateOperation
}
