package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to dispatch callers.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindExternal      ErrorKind = "external"
	KindUnknownIntent ErrorKind = "unknown_intent"
	KindInternal      ErrorKind = "internal"
)

// Error is a classified failure. Msg is the localized, user-facing text; Err
// carries the underlying cause (provider detail for external failures).
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports a missing or malformed input. No mutation may follow it.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a failed id/name resolution.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// External wraps a calendar, email or search backend failure.
func External(msg string, err error) error {
	return &Error{Kind: KindExternal, Msg: msg, Err: err}
}

// UnknownIntent reports an intent outside the registry.
func UnknownIntent(intent string) error {
	return &Error{Kind: KindUnknownIntent, Msg: fmt.Sprintf("unknown intent: %q", intent)}
}

// KindOf returns the classification of err, or KindInternal when err is not
// a classified *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
