// LOCATION: internal/errors/errors.go
//
// This file provides:
// - Sentinel errors for all error conditions
// - Typed persistence and initialization errors
// - Error category checking functions
// - Error wrapping utilities
// - Validation error collection

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Storage errors
	ErrPersistence    = errors.New("persistence failure")
	ErrInitialization = errors.New("initialization failure")
	ErrSinkClosed     = errors.New("sink is closed")
	ErrCorruptRecord  = errors.New("corrupt record")

	// Validation errors
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidTopic    = errors.New("invalid topic")
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrInvalidPayload  = errors.New("invalid payload")

	// State errors
	ErrNotRunning     = errors.New("service not running")
	ErrAlreadyRunning = errors.New("service already running")
	ErrQueueFull      = errors.New("queue full")

	// Transport errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
	ErrTimeout          = errors.New("timeout")
)

// ============================================================================
// Typed errors
// ============================================================================

// PersistenceError reports a failed append to a durable sink.
// Buffered data is kept when this error is returned.
type PersistenceError struct {
	Sink string // Sink name, e.g. "csv"
	Path string
	Rows int // Rows that were being appended
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %d rows to %s sink %s: %v", e.Rows, e.Sink, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) true for any PersistenceError.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// InitializationError reports a failure to prepare a sink (header creation).
type InitializationError struct {
	Sink string
	Path string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize %s sink %s: %v", e.Sink, e.Path, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInitialization) true for any InitializationError.
func (e *InitializationError) Is(target error) bool { return target == ErrInitialization }

// NewPersistence creates a PersistenceError.
func NewPersistence(sink, path string, rows int, err error) error {
	return &PersistenceError{Sink: sink, Path: path, Rows: rows, Err: err}
}

// NewInitialization creates an InitializationError.
func NewInitialization(sink, path string, err error) error {
	return &InitializationError{Sink: sink, Path: path, Err: err}
}

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsPersistence returns true if err is a persistence error.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsInitialization returns true if err is a sink initialization error.
func IsInitialization(err error) bool {
	return errors.Is(err, ErrInitialization)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidTopic) ||
		errors.Is(err, ErrUnknownChannel) ||
		errors.Is(err, ErrInvalidPayload)
}

// IsStateError returns true if err is a state-related error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrNotRunning) ||
		errors.Is(err, ErrAlreadyRunning)
}

// IsTransportError returns true if err is a transport-related error.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrTimeout)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrQueueFull)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewUnknownChannel creates an unknown-channel error.
func NewUnknownChannel(name string) error {
	return fmt.Errorf("channel '%s': %w", name, ErrUnknownChannel)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
