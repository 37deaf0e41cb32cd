package book

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by engine operations. Callers classify with
// errors.Is; every kind maps to one HTTP status in the API layer.
var (
	// ErrInvalidArgument: out-of-range price/shares or malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound: unknown account, order, or market.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState: market not open, order not cancellable, or a
	// lifecycle transition that is not allowed.
	ErrInvalidState = errors.New("invalid state")

	// ErrForbidden: ownership mismatch.
	ErrForbidden = errors.New("forbidden")

	// ErrInvariant marks a defensive check that must never fire in correct
	// code (e.g. a balance that would go negative). It aborts the operation
	// before anything is committed and is surfaced as an internal error.
	ErrInvariant = errors.New("invariant violation")
)

// InsufficientFundsError carries the required and available amounts so the
// caller can act on the shortfall.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d", e.Required, e.Available)
}

// ErrInsufficientFunds is the sentinel for errors.Is matching;
// InsufficientFundsError values report themselves as this kind.
var ErrInsufficientFunds = errors.New("insufficient funds")

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
