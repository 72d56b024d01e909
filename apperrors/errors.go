// Package apperrors defines the error model shared by the messaging core:
// a small sum type carrying a kind, a stable code and a human description,
// plus a transient marker that the JetStream host uses to decide between
// redelivery and the dead-letter queue.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind int

const (
	KindUnexpected Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindUnauthorized
	KindForbidden
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConflict:
		return "Conflict"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	default:
		return "Unexpected"
	}
}

// HTTPStatus maps the kind onto its HTTP-equivalent numeric status. The
// request-reply error envelope and HTTP-facing layers share this mapping.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error surfaced by handlers instead of raw panics or
// ad-hoc strings. Code is a stable machine-readable identifier
// (e.g. "Saga.Failed"), Description is for humans.
type Error struct {
	Kind        Kind
	Code        string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Code, e.Description)
}

// New builds an Error with an explicit kind.
func New(kind Kind, code, description string) *Error {
	return &Error{Kind: kind, Code: code, Description: description}
}

// NotFound builds a NotFound error.
func NotFound(code, description string) *Error {
	return New(KindNotFound, code, description)
}

// Validation builds a Validation error.
func Validation(code, description string) *Error {
	return New(KindValidation, code, description)
}

// Conflict builds a Conflict error.
func Conflict(code, description string) *Error {
	return New(KindConflict, code, description)
}

// Unauthorized builds an Unauthorized error.
func Unauthorized(code, description string) *Error {
	return New(KindUnauthorized, code, description)
}

// Forbidden builds a Forbidden error.
func Forbidden(code, description string) *Error {
	return New(KindForbidden, code, description)
}

// Unexpected builds an Unexpected error.
func Unexpected(code, description string) *Error {
	return New(KindUnexpected, code, description)
}

// From coerces any error into an *Error. Errors that already are (or wrap)
// an *Error pass through; everything else becomes Unexpected.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unexpected("Unexpected", err.Error())
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// transientError marks an error as retriable. Unmarked errors are terminal:
// the JetStream host sidelines them instead of asking for redelivery.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return "transient: " + t.err.Error() }

func (t *transientError) Unwrap() error { return t.err }

// Transient wraps err so that IsTransient reports true for it. A nil err
// returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf is Transient(fmt.Errorf(...)).
func Transientf(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err (or anything it wraps) was marked with
// Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
