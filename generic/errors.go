/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context; the API
  maps them to HTTP status codes through the helpers at the bottom.

ERROR CATEGORIES:
  1. Validation errors - bad input, no side effects (400)
  2. Not found errors - missing event or transaction (404)
  3. Conflict errors - approve/reject against the opposite terminal state (409)
  4. Store errors - uniqueness violations and database failures

USAGE:
    if errors.Is(err, generic.ErrDuplicateReference) {
        // rebate already settled, count as skipped
    }

SEE ALSO:
  - store.go: Uses these errors
  - api/handlers.go: Maps them to HTTP status
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrNegativeAmount is returned when a win or loss amount is below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrInvalidBusinessDate is returned for malformed business dates.
	ErrInvalidBusinessDate = errors.New("invalid business date")

	// ErrCustomerNotFound is returned when a referenced customer doesn't exist.
	// Surfaced inside a ValidationError: an unknown customer is bad input.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrGameNotFound is returned when a referenced game doesn't exist.
	ErrGameNotFound = errors.New("game not found")

	// ErrGameDisabled is returned when recording against a disabled game.
	ErrGameDisabled = errors.New("game is disabled")

	// ErrEventNotFound is returned when editing an unknown win/loss event.
	ErrEventNotFound = errors.New("win/loss event not found")

	// ErrTransactionNotFound is returned when approving/rejecting an unknown transaction.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNotRebate is returned when approve/reject targets a non-rebate transaction.
	ErrNotRebate = errors.New("transaction is not a rebate")

	// ErrAlreadyApproved is returned when rejecting an approved transaction.
	ErrAlreadyApproved = errors.New("already approved")

	// ErrAlreadyRejected is returned when approving a rejected transaction.
	ErrAlreadyRejected = errors.New("already rejected")

	// ErrDuplicateReference is returned by stores when a transaction reference
	// already exists. Rebate creation maps it to "skipped".
	ErrDuplicateReference = errors.New("duplicate transaction reference")

	// ErrDuplicateLedgerEntry is returned when a second entry for the same
	// (customer, game, day) would be inserted.
	ErrDuplicateLedgerEntry = errors.New("duplicate ledger entry")

	// ErrNotAnchor is returned when a ledger key day is not a business day anchor.
	ErrNotAnchor = errors.New("day is not a business day anchor")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // optional specific sentinel, e.g. ErrNegativeAmount
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// TransitionError reports an illegal status transition of a transaction.
type TransitionError struct {
	ID   TransactionID
	From TransactionStatus
	To   TransactionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot mark transaction %s %s: already %s", e.ID, e.To, e.From)
}

func (e *TransitionError) Unwrap() error {
	if e.From == StatusRejected {
		return ErrAlreadyRejected
	}
	return ErrAlreadyApproved
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotRebate)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsConflict returns true if the error is a terminal-state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyApproved) || errors.Is(err, ErrAlreadyRejected)
}
