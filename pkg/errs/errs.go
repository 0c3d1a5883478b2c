/*
Package errs defines the coordinator's error kinds.

Error kinds are neutral, stable names used for errors.Is-style matching
across package boundaries; they are not themselves exported types callers
construct directly except through the constructors below, following the
wrapped-stdlib-error idiom used throughout the rest of the tree.
*/
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies an error category handled specially by callers.
type Kind string

const (
	Unavailable         Kind = "Unavailable"
	TransactionConflict Kind = "TransactionConflict"
	ConflictError       Kind = "ConflictError"
	NotOwner            Kind = "NotOwner"
	LockTimeout         Kind = "LockTimeout"
	ConcurrentLimit     Kind = "ConcurrentLimit"
	CpuExceeded         Kind = "CpuExceeded"
	MemoryExceeded      Kind = "MemoryExceeded"
	SystemResources     Kind = "SystemResources"
	InvalidTransition   Kind = "InvalidTransition"
	UnknownCommand      Kind = "UnknownCommand"
	InvalidArgs         Kind = "InvalidArgs"
	Timeout             Kind = "Timeout"
	AuthRequired        Kind = "AuthRequired"
	Fatal               Kind = "Fatal"
)

// Error is the concrete error type carried by the coordinator; it wraps an
// optional cause and is matched by Kind via Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, errs.New(errs.NotOwner, "")) matches regardless of
// Message or Cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of reports the Kind of err, or "" if err is not (or does not wrap) an
// *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
