package domain

import (
	"errors"
	"strings"
)

// Kind is the stable, machine-readable class of a ledger error.
type Kind string

const (
	KindConflict         Kind = "conflict"
	KindNotFound         Kind = "not_found"
	KindInvalidOperation Kind = "invalid_operation"
	KindInvalidArgument  Kind = "invalid_argument"
)

// Error is returned by ledger operations for every caller-correctable failure.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Cause   error
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, domain.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrConflict         = &Error{Kind: KindConflict, Message: "conflict"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidOperation = &Error{Kind: KindInvalidOperation, Message: "invalid operation"}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
)

func Conflict(msg string) *Error         { return &Error{Kind: KindConflict, Message: msg} }
func NotFound(msg string) *Error         { return &Error{Kind: KindNotFound, Message: msg} }
func InvalidOperation(msg string) *Error { return &Error{Kind: KindInvalidOperation, Message: msg} }

// InvalidArgument wraps field-level validation failures.
func InvalidArgument(fields ...FieldError) *Error {
	return &Error{Kind: KindInvalidArgument, Message: "validation failed", Fields: fields}
}

// KindOf returns the kind of err, or "" if err is not a ledger error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
