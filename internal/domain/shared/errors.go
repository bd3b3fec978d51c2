// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Validation errors
	ErrInvalidArgument = errors.New("invalid argument")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Entity errors
	ErrNotFound = errors.New("entity not found")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")

	// External dependency errors
	ErrUnavailable = errors.New("dependency unavailable")
	ErrTimeout     = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "ingest", "store"
	Op      string // Operation that failed, e.g., "Award", "SaveAll"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progression domain errors
var (
	ErrInvalidAmount   = NewDomainError("progression", "Award", ErrInvalidArgument, "xp amount must be positive")
	ErrInvalidMemberID = NewDomainError("progression", "Validate", ErrInvalidArgument, "invalid member ID")
	ErrInvalidKind     = NewDomainError("progression", "Validate", ErrInvalidArgument, "unknown activity kind")
	ErrInvalidRules    = NewDomainError("progression", "Validate", ErrValueOutOfRange, "invalid progression rules")
)

// Ingestion errors
var (
	ErrTickInProgress      = NewDomainError("ingest", "VoiceTick", ErrConflict, "previous voice tick still running")
	ErrPresenceUnavailable = NewDomainError("ingest", "Presence", ErrUnavailable, "voice presence source unavailable")
)

// Storage errors
var (
	ErrStoreUnavailable = NewDomainError("store", "Access", ErrUnavailable, "progression store unavailable")
	ErrCorruptSnapshot  = NewDomainError("store", "LoadAll", ErrInvalidFormat, "stored snapshot is corrupt")
)

// IsInvalidArgument checks if the error is a validation error.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable checks if the error comes from a dependency that is down.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrTimeout)
}
