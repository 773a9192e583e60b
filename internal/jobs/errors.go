package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParams is returned when submission parameters are malformed or unsupported
	ErrInvalidParams = errors.New("invalid job parameters")

	// ErrNotFound is returned when a job id is unknown or has been evicted
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned when a compare-and-set transition loses a race
	ErrConflict = errors.New("job status conflict")

	// ErrInvalidTransition is returned when the state machine forbids a transition
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInferenceFailure marks errors raised by the inference engine
	ErrInferenceFailure = errors.New("inference failed")

	// ErrResourceExhausted is returned when the store or the queue is at capacity
	ErrResourceExhausted = errors.New("job capacity exhausted")

	// ErrJobFinished is returned when cancelling a job that already reached a terminal state
	ErrJobFinished = errors.New("job already finished")
)

// ValidationError describes a single rejected submission parameter
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidParams
}

// NewValidationError creates a validation error for the given field
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InferenceError wraps an engine failure so that it matches ErrInferenceFailure
func InferenceError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInferenceFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInferenceFailure, err)
}
