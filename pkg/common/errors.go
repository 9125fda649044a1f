package common

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks a failure talking to an external collaborator
	// (graph store, language model). Callers recover it at component
	// boundaries with a fallback.
	ErrTransport = errors.New("transport failure")
	// ErrMalformedResponse marks a collaborator reply that could not be
	// parsed into the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrInvariantViolation marks a broken internal contract. It is never
	// recovered; code that detects one panics with an InvariantViolation.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInputValidation marks input rejected before processing.
	ErrInputValidation = errors.New("invalid input")
)

// TransportError wraps an error returned by an external collaborator.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// NewTransportError wraps err as a TransportError for op. A nil err yields nil.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// InvariantViolation describes a broken internal contract.
type InvariantViolation struct {
	What string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.What
}

func (e *InvariantViolation) Is(target error) bool {
	return target == ErrInvariantViolation
}

// Violation panics with an InvariantViolation built from the format string.
func Violation(format string, args ...any) {
	panic(&InvariantViolation{What: fmt.Sprintf(format, args...)})
}
