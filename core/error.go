package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced room, message or membership does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when a mutation is rejected by the store's row level rules.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransientIO is returned when the store or transport is unavailable.
	// The operation can be retried by invoking it again.
	ErrTransientIO = errors.New("store unavailable")
	// ErrInvalidInput is returned when an input fails validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthenticated is returned when there is no valid session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrBadCredentials is returned when the email and password do not match.
	ErrBadCredentials = errors.New("invalid credentials")
	// ErrConflict is returned when a unique user attribute is already taken.
	ErrConflict = errors.New("already exists")
)

// Error classifies a failure into one of the error kinds above
// while keeping the operation that failed and the underlying cause.
// errors.Is matches both the kind and the cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func notFound(op string) error {
	return &Error{Kind: ErrNotFound, Op: op}
}

func unauthorized(op string) error {
	return &Error{Kind: ErrUnauthorized, Op: op}
}

func transient(op string, err error) error {
	return &Error{Kind: ErrTransientIO, Op: op, Err: err}
}

func invalid(op string, err error) error {
	return &Error{Kind: ErrInvalidInput, Op: op, Err: err}
}
