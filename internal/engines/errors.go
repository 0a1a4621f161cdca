package engines

import (
	"errors"
	"fmt"
)

// Common engine errors.
var (
	// ErrMissingCredentials indicates no usable credentials were found in
	// the environment.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrInvalidConfiguration indicates the engine configuration is
	// incomplete or invalid.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrEmptyImage indicates the input image was empty.
	ErrEmptyImage = errors.New("empty image")

	// ErrRecognitionFailed indicates the engine call failed.
	ErrRecognitionFailed = errors.New("recognition failed")

	// ErrAllEnginesFailed indicates no engine produced detections.
	ErrAllEnginesFailed = errors.New("all engines failed")
)

// EngineError provides structured error information for recognition
// operations.
type EngineError struct {
	Op      string
	Engine  string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("engines.%s [%s]: %v (%s)", e.Op, e.Engine, e.Err, e.Details)
	}
	return fmt.Sprintf("engines.%s [%s]: %v", e.Op, e.Engine, e.Err)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches the underlying error.
func (e *EngineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapEngineError creates a new EngineError with context.
func WrapEngineError(op, engine string, err error, details string) *EngineError {
	return &EngineError{
		Op:      op,
		Engine:  engine,
		Err:     err,
		Details: details,
	}
}
