// Package apperror defines the error taxonomy shared by every layer.
//
// Services and repositories return these; only the HTTP layer decides
// which status code each one becomes.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrGone         = errors.New("gone")

	// ErrMigration marks a failed schema migration step. It is fatal: the
	// process must not serve requests against a half-migrated schema.
	ErrMigration = errors.New("migration failed")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound is used both for rows that do not exist and for rows owned by
// somebody else. Callers cannot tell the two apart.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized means the caller must authenticate first (or sent bad
// credentials). HTTP handlers map this to 401.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Gone marks a resource that exists but is no longer usable, such as an
// expired share. HTTP handlers map this to 410.
func Gone(resource, id string) *AppError {
	return &AppError{
		Err:     ErrGone,
		Message: fmt.Sprintf("%s %s has expired", resource, id),
	}
}
