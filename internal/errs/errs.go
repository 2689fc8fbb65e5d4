// Package errs defines the error taxonomy shared across bor's components.
//
// Components report outcomes as plain Go errors wrapped with a Kind so that
// orchestration code can recover the kind via errors.As without resorting to
// string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed, independent of the underlying
// cause. It never carries data itself; the wrapped cause does that.
type Kind uint8

const (
	// KindNone is the zero value and never attached to a real error.
	KindNone Kind = iota
	// KindConfig indicates a missing config file, malformed INI, browser
	// script failure, or invalid option value. Fatal at startup.
	KindConfig
	// KindSafetyViolation indicates a directory or its parent failed the
	// ownership/mode safety check. The engine skips the directory.
	KindSafetyViolation
	// KindCorruptedState indicates the (L,B,T) tuple could not be classified
	// by any repair rule.
	KindCorruptedState
	// KindTransientIO indicates a copy/move/remove primitive failed.
	KindTransientIO
	// KindCapabilityMissing indicates overlay mode was requested without the
	// required permitted capabilities.
	KindCapabilityMissing
	// KindFatalSystem indicates a mount, unmount, or roots-creation failure.
	// The session aborts entirely.
	KindFatalSystem
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindSafetyViolation:
		return "SafetyViolation"
	case KindCorruptedState:
		return "CorruptedState"
	case KindTransientIO:
		return "TransientIO"
	case KindCapabilityMissing:
		return "CapabilityMissing"
	case KindFatalSystem:
		return "FatalSystem"
	default:
		return "Unknown"
	}
}

// kindError pairs a Kind with an underlying cause, implementing Unwrap so
// errors.As/errors.Is keep working against the wrapped cause.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return fmt.Sprintf("%s: %s", e.kind, e.cause.Error())
}

func (e *kindError) Unwrap() error {
	return e.cause
}

// New wraps cause with kind. If cause is nil, New returns nil.
func New(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &kindError{kind: kind, cause: cause}
}

// Newf is a convenience wrapper combining fmt.Errorf-style formatting with a
// Kind attachment.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, cause: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind attached to err, if any. It returns KindNone if
// err is nil or carries no Kind.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindNone
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
