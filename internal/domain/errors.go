// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every error surfaced by the pipeline wraps exactly one of these,
// so callers can branch with errors.Is without knowing the specific failure.
var (
	// ErrConfiguration is returned when a required setting or credential is absent.
	// It is fatal for the operation that needed it.
	ErrConfiguration = errors.New("configuration error")

	// ErrExternalService is returned when the AI provider or another remote
	// dependency fails, times out, or answers with an unusable payload.
	ErrExternalService = errors.New("external service error")

	// ErrValidation is returned when a domain entity or request fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrState is returned when an operation is not allowed in the current state
	// of an attempt, publication or task.
	ErrState = errors.New("invalid state")

	// ErrPersistence is returned when the store fails to read or write.
	ErrPersistence = errors.New("persistence error")
)

// Specific errors, each wrapping one category.
var (
	// ErrConfigurationMissing is returned when an AI credential is missing or still
	// holds a placeholder value.
	ErrConfigurationMissing = fmt.Errorf("%w: credential missing or placeholder", ErrConfiguration)

	// ErrAttemptLimitExceeded is returned when a student has used every attempt
	// a publication allows.
	ErrAttemptLimitExceeded = fmt.Errorf("%w: attempt limit exceeded", ErrState)

	// ErrWindowClosed is returned when the current time is outside the
	// publication window or past an attempt's deadline.
	ErrWindowClosed = fmt.Errorf("%w: exam window closed", ErrState)

	// ErrAuthRequired is returned when a publication requires a password and the
	// supplied one is missing or wrong.
	ErrAuthRequired = fmt.Errorf("%w: exam password required", ErrState)

	// ErrInvalidTransition is returned when a status change would move backwards
	// or skip a state.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrState)

	// ErrTaskTerminal is returned when a finished ledger record is advanced or
	// completed again.
	ErrTaskTerminal = fmt.Errorf("%w: task already finished", ErrState)

	// ErrTargetExceeded is returned when advancing a ledger record would push
	// completed past target.
	ErrTargetExceeded = fmt.Errorf("%w: progress would exceed target", ErrValidation)

	// ErrNotOwned is returned when an actor operates on an attempt that belongs to
	// someone else.
	ErrNotOwned = fmt.Errorf("%w: attempt belongs to another student", ErrState)

	// ErrEmptyContent is returned when required content is empty.
	ErrEmptyContent = fmt.Errorf("%w: content cannot be empty", ErrValidation)

	// ErrInvalidID is returned when an ID is missing or malformed.
	ErrInvalidID = fmt.Errorf("%w: invalid ID", ErrValidation)
)

// IsCategory reports whether err belongs to any of the five error categories.
func IsCategory(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrState) ||
		errors.Is(err, ErrPersistence)
}
