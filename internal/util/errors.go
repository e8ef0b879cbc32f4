package util

import (
	"errors"
	"fmt"
	"strings"
)

// Common error types for tilebatch
var (
	// ErrInvalidConfig indicates a configuration error
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTileNotFound indicates a tile is outside of the process pyramid or area
	ErrTileNotFound = errors.New("tile not found")

	// ErrBackendUnavailable indicates the execution backend could not be started
	ErrBackendUnavailable = errors.New("execution backend unavailable")

	// ErrWorkerLost indicates a worker process or remote worker went away mid-task
	ErrWorkerLost = errors.New("worker lost")

	// ErrUnregisteredFunc indicates a task function has no registered name
	ErrUnregisteredFunc = errors.New("task function not registered")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled indicates an operation was cancelled
	ErrCancelled = errors.New("operation cancelled")

	// ErrShutdown indicates the executor is shutting down
	ErrShutdown = errors.New("executor shutting down")
)

// TaskError wraps the failure of a single task with its identity
type TaskError struct {
	ID  string
	Err error
}

// Error implements the error interface
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.ID, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/As compatibility
func (e *TaskError) Unwrap() error {
	return e.Err
}

// WrapTaskError wraps an error with task context
func WrapTaskError(id string, err error) error {
	if err == nil {
		return nil
	}
	var te *TaskError
	if errors.As(err, &te) && te.ID == id {
		return err
	}
	return &TaskError{
		ID:  id,
		Err: err,
	}
}

// ReleaseError reports a failure while closing a resource owned by a job
type ReleaseError struct {
	Err error
}

// Error implements the error interface
func (e *ReleaseError) Error() string {
	return fmt.Sprintf("failed to release resource: %v", e.Err)
}

// Unwrap returns the wrapped error
func (e *ReleaseError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:", len(m.Errors)))
	for i, err := range m.Errors {
		if i < 10 { // Limit to first 10 errors in the message
			sb.WriteString(fmt.Sprintf("\n  %d. %v", i+1, err))
		} else if i == 10 {
			sb.WriteString(fmt.Sprintf("\n  ... and %d more errors", len(m.Errors)-10))
			break
		}
	}
	return sb.String()
}

// Unwrap returns the errors for errors.Is/As compatibility
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the multi-error
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// ErrorOrNil returns nil if no errors were added, otherwise returns the MultiError
func (m *MultiError) ErrorOrNil() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// NewMultiError creates a new MultiError from a slice of errors
// It filters out nil errors
func NewMultiError(errors []error) *MultiError {
	m := &MultiError{
		Errors: make([]error, 0, len(errors)),
	}
	for _, err := range errors {
		if err != nil {
			m.Errors = append(m.Errors, err)
		}
	}
	return m
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	if v.Value != nil {
		return fmt.Sprintf("validation failed for field %q (value: %v): %s", v.Field, v.Value, v.Message)
	}
	return fmt.Sprintf("validation failed for field %q: %s", v.Field, v.Message)
}

// Unwrap makes every validation error match ErrInvalidConfig
func (v *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCancelled checks if an error is a cancellation error
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsBackendUnavailable checks if an executor backend failed to start
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// IsTaskError checks if an error originated from a task
func IsTaskError(err error) bool {
	var taskErr *TaskError
	return errors.As(err, &taskErr)
}

// FriendlyError converts technical errors to user-friendly messages.
// The original error text is kept after the hint.
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}

	var hint string
	switch {
	case IsTimeout(err):
		hint = "Workers did not stop in time and were killed."
	case IsCancelled(err):
		return "Operation was cancelled."
	case IsBackendUnavailable(err):
		hint = "Execution backend could not be started. Please check the --scheduler address or worker settings."
	case errors.Is(err, ErrTileNotFound):
		hint = "Tile not found. Please check the zoom level and tile index against the process pyramid."
	case errors.Is(err, ErrInvalidConfig):
		hint = "Invalid configuration. Please check your process configuration and command-line flags."
	case errors.Is(err, ErrUnregisteredFunc):
		hint = "Task function is not registered and cannot run in another process."
	default:
		return err.Error()
	}
	return hint + "\n  " + err.Error()
}

// CombineErrors combines multiple errors into a single error
// Returns nil if all errors are nil
func CombineErrors(errors ...error) error {
	m := NewMultiError(errors)
	return m.ErrorOrNil()
}

// WrapErrorf wraps an error with a formatted message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
