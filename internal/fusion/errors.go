package fusion

import (
	"errors"
	"fmt"
)

// ErrInvalidDetection is returned when a detection fails ingestion
// validation (degenerate bbox, confidence outside [0, 1], empty text).
var ErrInvalidDetection = errors.New("invalid detection")

// FusionError wraps errors with context about the fusion failure.
type FusionError struct {
	// Op is the operation that failed (e.g., "Fuse").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *FusionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("fusion: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("fusion: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *FusionError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *FusionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapFusionError wraps an error as a FusionError if it isn't already one.
func WrapFusionError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var fusionErr *FusionError
	if errors.As(err, &fusionErr) {
		return err // Already wrapped
	}

	return &FusionError{Op: op, Err: err, Details: details}
}

// ValidationError represents a malformed detection rejected at ingestion.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Is matches ValidationError against ErrInvalidDetection.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidDetection
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}
