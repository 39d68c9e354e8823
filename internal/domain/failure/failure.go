// Package failure classifies workflow errors so callers can tell an unknown
// order apart from a state conflict or a broken database without string matching.
package failure

import (
	"github.com/go-faster/errors"
)

// Kind is the category of a workflow failure.
type Kind int

const (
	// KindInfrastructure covers database and transport faults.
	KindInfrastructure Kind = iota
	// KindNotFound is returned for unknown orders, claim codes and members.
	KindNotFound
	// KindConflict is returned when the order is in a state that forbids the operation.
	KindConflict
	// KindValidation is returned for requests rejected before any persistence.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	default:
		return "infrastructure"
	}
}

// Error is a failure with a human-readable message. Message is shown to staff
// and written to the processing log verbatim.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound returns a KindNotFound failure.
func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

// Conflict returns a KindConflict failure.
func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Message: msg} }

// Validation returns a KindValidation failure.
func Validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

// Infrastructure wraps err as a KindInfrastructure failure keeping its message.
func Infrastructure(err error) *Error {
	return &Error{Kind: KindInfrastructure, Message: err.Error(), Err: err}
}

// KindOf reports the kind of err. Errors that are not *Error are treated as
// infrastructure faults.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInfrastructure
}

// Message returns the failure message for err, falling back to err.Error().
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Error()
	}
	return err.Error()
}
