package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when the requested edge is not in the transition table.
	// It is an expected outcome, not a system failure.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a status value is not a known lifecycle state
	ErrInvalidState = errors.New("invalid state")

	// ErrInvoiceNotFound is returned when the invoice does not exist in the record store
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrConcurrencyTimeout is returned when exclusive access could not be obtained
	// before the caller's deadline. Retryable.
	ErrConcurrencyTimeout = errors.New("timed out waiting for invoice lock")

	// ErrStoreUnavailable is returned when persistence failed mid-operation.
	// The unit of work was rolled back; retryable.
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// IsRetryable reports whether the caller may retry the operation unchanged
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyTimeout) || errors.Is(err, ErrStoreUnavailable)
}
