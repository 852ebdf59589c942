// Package apperr classifies pipeline failures so callers can tell
// "fix your input" apart from "retry later" and "out of quota".
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindAnalyzer       Kind = "analyzer"
	KindTimeout        Kind = "timeout"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindInfrastructure Kind = "infrastructure"
	KindNotFound       Kind = "not_found"
)

// Error carries a Kind alongside a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func QuotaExceeded(format string, args ...any) *Error {
	return New(KindQuotaExceeded, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}

func Infrastructure(err error, format string, args ...any) *Error {
	return Wrap(KindInfrastructure, err, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain. Deadline
// errors without a kind are timeouts; anything else unclassified is
// treated as infrastructure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInfrastructure
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the human-readable part of err without the kind prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Retryable reports whether the same request may succeed later unchanged.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindInfrastructure:
		return true
	}
	return false
}

// Guidance is the short caller-facing hint for a kind.
func Guidance(kind Kind) string {
	switch kind {
	case KindValidation:
		return "fix your input"
	case KindQuotaExceeded:
		return "out of quota"
	case KindTimeout, KindInfrastructure:
		return "retry later"
	case KindAnalyzer:
		return "analysis degraded, resubmit"
	case KindNotFound:
		return "unknown request"
	}
	return ""
}
