// Package apperr holds the error taxonomy shared by the trip ledger packages.
//
// Callers test for a category with errors.Is against one of the sentinels;
// structured errors unwrap to their sentinel so both styles work.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when a role or ownership check fails.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned when a write collides with existing state.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthenticated is returned for a bad or missing credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrConcurrentUpdate is returned when an update could not be applied
	// against a stable read of the record.
	ErrConcurrentUpdate = fmt.Errorf("%w: concurrent modification of trip", ErrConflict)
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid is shorthand for building a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AllocationExhaustedError is returned when every identifier candidate for a
// year collided with an existing trip.
type AllocationExhaustedError struct {
	Year     int
	Attempts int
}

func (e *AllocationExhaustedError) Error() string {
	return fmt.Sprintf("trip id allocation for %d exhausted after %d attempts", e.Year, e.Attempts)
}

func (e *AllocationExhaustedError) Unwrap() error {
	return ErrConflict
}

// IsNotFound reports whether err means a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError reports whether err was caused by the caller's input or rights.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthenticated)
}
