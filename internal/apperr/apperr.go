// Package apperr defines the error kinds shared by the settlement components.
// Callers test for a kind with errors.Is; messages carry the context.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid state")
	ErrDeadlineExpired   = errors.New("deadline expired")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrValidation        = errors.New("validation failed")
)

var kinds = []error{
	ErrNotFound,
	ErrInsufficientStock,
	ErrInsufficientFunds,
	ErrInvalidState,
	ErrDeadlineExpired,
	ErrUnauthorized,
	ErrValidation,
}

// New wraps kind with a formatted message.
func New(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the sentinel err wraps, or nil for system errors.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsBusiness reports whether err is one of the known kinds. Anything else is
// treated as a system failure by callers.
func IsBusiness(err error) bool {
	return Kind(err) != nil
}
