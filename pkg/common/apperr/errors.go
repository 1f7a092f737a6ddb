package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a referenced record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks routing/scoring configuration that cannot serve the call.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvariant marks a request that would break a domain invariant.
	ErrInvariant = errors.New("invariant violation")
	// ErrValidation marks malformed caller input.
	ErrValidation = errors.New("validation error")
	// ErrInvalidTransition is an ErrInvariant raised by the lifecycle state machine.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrInvariant)
)

func NotFound(entity string, key interface{}) error {
	return fmt.Errorf("%s %v: %w", entity, key, ErrNotFound)
}

func Configuration(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func Invariant(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
