package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects a write. Nothing was persisted.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates an unknown user, group, expense or share.
	ErrNotFound = errors.New("not found")
	// ErrConsistency indicates a broken ledger invariant. Not retryable.
	ErrConsistency = errors.New("consistency check failed")
	// ErrTransient indicates storage unavailability. Safe to retry.
	ErrTransient = errors.New("temporarily unavailable")
	// ErrRequestInFlight indicates another call with the same request id is running.
	ErrRequestInFlight = errors.New("request already in progress")
)

// Validationf returns an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound for the given kind and ID.
func NotFoundf(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// Consistencyf returns an ErrConsistency with a formatted reason.
func Consistencyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
