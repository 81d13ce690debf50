package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify with errors.Is; every error returned by
// the services wraps exactly one of these.
var (
	// ErrNotFound is returned for unknown account, envelope, transaction or period ids.
	ErrNotFound = errors.New("not found")

	// ErrInvalidReference is returned when an operation names an envelope that
	// does not exist or is no longer active.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrInvalidOperation is returned for requests that are well formed but not
	// allowed in the current state (income into an envelope, inactive account,
	// reversing a reversal, rolling back in time).
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrConcurrencyConflict signals lock timeouts and optimistic version
	// mismatches. It is transient and retried internally.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrInvariantViolation means a consistency check after a write found the
	// derived totals out of step with the ledger. It indicates a bug.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrValidation is the parent of every input validation error.
	ErrValidation = errors.New("validation failed")
)

// Validation errors
var (
	ErrInvalidAmount      = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrNegativeLimit      = fmt.Errorf("%w: limit cannot be negative", ErrValidation)
	ErrAmountTooLarge     = fmt.Errorf("%w: amount too large", ErrValidation)
	ErrEmptyDescription   = fmt.Errorf("%w: empty description", ErrValidation)
	ErrEmptyCategory      = fmt.Errorf("%w: empty category", ErrValidation)
	ErrEmptyName          = fmt.Errorf("%w: empty name", ErrValidation)
	ErrEmptyAccountID     = fmt.Errorf("%w: empty account id", ErrValidation)
	ErrInvalidAccountType = fmt.Errorf("%w: invalid account type", ErrValidation)
	ErrInvalidCurrency    = fmt.Errorf("%w: invalid currency", ErrValidation)
	ErrInvalidMonth       = fmt.Errorf("%w: invalid month", ErrValidation)
	ErrInvalidYear        = fmt.Errorf("%w: invalid year", ErrValidation)
	ErrInvalidRange       = fmt.Errorf("%w: invalid date range", ErrValidation)
	ErrTextTooLong        = fmt.Errorf("%w: text too long", ErrValidation)
)

// IsUserError reports whether err should be shown to the caller as a
// rejected request rather than a system failure.
func IsUserError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrValidation)
}
