package donation

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTransaction is returned when a payment id has already been recorded.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	// ErrNotFound is returned when a donation record does not exist.
	ErrNotFound = errors.New("donation not found")
)

// ValidationError rejects a request before any gateway or database work.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// OrderCreationError wraps a failed gateway order call.
type OrderCreationError struct {
	Timeout bool
	Err     error
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("create order: %v", e.Err)
}

func (e *OrderCreationError) Unwrap() error { return e.Err }

// SignatureVerificationError reports a callback whose signature did not match.
// The message is deliberately opaque.
type SignatureVerificationError struct {
	OrderID   string
	PaymentID string
}

func (e *SignatureVerificationError) Error() string { return "signature mismatch" }

// PersistenceError means the payment was verified but the record could not be
// stored. Queued reports whether a reconciliation task was scheduled.
type PersistenceError struct {
	PaymentID string
	OrderID   string
	Queued    bool
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist donation for payment %s: %v", e.PaymentID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
