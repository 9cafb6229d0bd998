// Package crmerr defines the error taxonomy shared by the store, the mutation
// service and the outer surfaces.
package crmerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an error.
type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeNotFound          Code = "NOT_FOUND"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeTransport         Code = "TRANSPORT"
	CodePartialComposite  Code = "PARTIAL_COMPOSITE_FAILURE"
)

// Error is the structured error returned by every CRM operation.
type Error struct {
	Code      Code
	Op        string // operation that failed, e.g. "promote lead"
	Kind      string // entity collection, e.g. "leads"
	ID        string // entity id when known
	Message   string
	Retryable bool

	// Completed and Remaining name the steps of a composite operation that
	// did and did not run. Only set for CodePartialComposite.
	Completed []string
	Remaining []string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " ")))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by code, so errors.Is(err, ErrNotFound) holds for any
// not-found error regardless of op or id.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.ID == "" && t.Message == ""
}

// Sentinels for errors.Is.
var (
	ErrValidation        = &Error{Code: CodeValidation}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrPermissionDenied  = &Error{Code: CodePermissionDenied}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition}
	ErrTransport         = &Error{Code: CodeTransport}
	ErrPartialComposite  = &Error{Code: CodePartialComposite}
)

// Validation reports malformed or missing input.
func Validation(op, format string, a ...any) *Error {
	return &Error{Code: CodeValidation, Op: op, Message: fmt.Sprintf(format, a...)}
}

// NotFound reports an id absent from the caller's scope.
func NotFound(kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Kind:    kind,
		ID:      id,
		Message: fmt.Sprintf("%s not found: %s", singular(kind), id),
	}
}

// PermissionDenied reports an ownership mismatch.
func PermissionDenied(kind, id string) *Error {
	msg := "permission denied"
	if id != "" {
		msg = fmt.Sprintf("permission denied for %s %s", singular(kind), id)
	}
	return &Error{Code: CodePermissionDenied, Kind: kind, ID: id, Message: msg}
}

// InvalidTransition reports an illegal stage or status move.
func InvalidTransition(op, format string, a ...any) *Error {
	return &Error{Code: CodeInvalidTransition, Op: op, Message: fmt.Sprintf(format, a...)}
}

// Transport wraps an infrastructure failure of the backing store.
func Transport(op string, err error) *Error {
	return &Error{Code: CodeTransport, Op: op, Message: "store unavailable", Retryable: true, Err: err}
}

// PartialComposite reports a composite operation that stopped after some of
// its writes were applied. Nothing is rolled back.
func PartialComposite(op, id string, completed, remaining []string, err error) *Error {
	return &Error{
		Code:      CodePartialComposite,
		Op:        op,
		ID:        id,
		Message:   fmt.Sprintf("completed %s, failed at %s", strings.Join(completed, ", "), strings.Join(remaining, ", ")),
		Completed: completed,
		Remaining: remaining,
		Retryable: true,
		Err:       err,
	}
}

// WithOp returns err with its Op set when err is an *Error without one.
func WithOp(op string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Op == "" {
		c := *e
		c.Op = op
		return &c
	}
	return err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsPermissionDenied(err error) bool  { return errors.Is(err, ErrPermissionDenied) }
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
func IsTransport(err error) bool         { return errors.Is(err, ErrTransport) }
func IsPartialComposite(err error) bool  { return errors.Is(err, ErrPartialComposite) }

func singular(kind string) string {
	switch kind {
	case "leads":
		return "lead"
	case "deals":
		return "deal"
	case "tasks":
		return "task"
	case "":
		return "entity"
	default:
		return kind
	}
}
