package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidFormat is returned by ParseExpiration for unrecognised input.
	ErrInvalidFormat = errors.New("invalid expiration format, use YYYY-MM-DD or YYYY-MM-DD HH:MM:SS")
	// ErrAccountNotFound is returned when no radcheck row references the username.
	ErrAccountNotFound = errors.New("account does not exist")
	// ErrAccountExists is returned when creating a username that already has attributes.
	ErrAccountExists = errors.New("account already exists")
	// ErrSchemaMissing means the database lacks the FreeRADIUS or portal tables.
	ErrSchemaMissing = errors.New("radius schema missing")
	// ErrNoPendingCode is returned when there is no unseen code for the username in this session.
	ErrNoPendingCode = errors.New("no pending code")
)

// ValidationError describes rejected input. No state is mutated when it is returned.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
