package model

import (
	"errors"
	"fmt"
)

// Kind categorizes docsync errors. Callers branch on the kind, never on
// message text or numeric status codes.
type Kind string

const (
	// KindNotFound indicates the document (or database) does not exist.
	KindNotFound Kind = "NOT_FOUND"

	// KindConflict indicates a revision mismatch or a duplicate id.
	KindConflict Kind = "CONFLICT"

	// KindValidation indicates a malformed filter, body, or argument.
	KindValidation Kind = "VALIDATION"

	// KindTransport indicates the remote peer was unreachable or violated
	// the protocol.
	KindTransport Kind = "TRANSPORT"

	// KindStorage indicates a local persistence failure.
	KindStorage Kind = "STORAGE"
)

// Sentinels for errors.Is matching by kind:
//
//	if errors.Is(err, model.ErrNotFound) { ... }
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrValidation = &Error{Kind: KindValidation}
	ErrTransport  = &Error{Kind: KindTransport}
	ErrStorage    = &Error{Kind: KindStorage}
)

// Error is the structured error returned by every docsync operation.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the failing operation ("create", "push", ...).
	Op string

	// ID is the affected document id, when there is one.
	ID string

	// Msg is a human-readable description.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.ID != "" {
		msg += fmt.Sprintf(" (id=%s)", e.ID)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a kind sentinel matching e.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.ID == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Errorf creates an Error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound creates a NotFound error for a document id.
func NotFound(op, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, ID: id, Msg: "document not found"}
}

// Conflict creates a Conflict error for a document id.
func Conflict(op, id, msg string) *Error {
	return &Error{Kind: KindConflict, Op: op, ID: id, Msg: msg}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound returns true if err is a NotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict returns true if err is a Conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsValidation returns true if err is a Validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsTransport returns true if err is a Transport error.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsStorage returns true if err is a Storage error.
func IsStorage(err error) bool { return KindOf(err) == KindStorage }
