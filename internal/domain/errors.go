package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures the way callers see them. Kinds are
// stable API strings: they appear verbatim in job error envelopes.
type ErrorKind string

const (
	KindInputInvalid        ErrorKind = "InputInvalid"
	KindReferenceIncomplete ErrorKind = "ReferenceIncomplete"
	KindGeographyUnresolved ErrorKind = "GeographyUnresolved"
	KindOffsetAmbiguous     ErrorKind = "OffsetAmbiguous"
	KindInfeasible          ErrorKind = "Infeasible"
	KindTimeout             ErrorKind = "Timeout"
	KindInternal            ErrorKind = "Internal"
)

// Error is a kinded error. Message is user-safe; Err (when set) holds
// the internal cause and is logged, never rendered to callers.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// E builds a kinded error with a formatted user-safe message.
func E(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an internal cause to a kinded error.
func Wrap(kind ErrorKind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the internal cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from any error in the chain.
// Unclassified errors report KindInternal.
func KindOf(err error) ErrorKind {
	var kinded *Error
	if errors.As(err, &kinded) {
		return kinded.Kind
	}
	return KindInternal
}

// UserMessage returns the user-safe message for an error. Internal
// errors are masked with a generic message.
func UserMessage(err error) string {
	var kinded *Error
	if errors.As(err, &kinded) && kinded.Kind != KindInternal {
		return kinded.Message
	}
	return "an internal error occurred"
}
