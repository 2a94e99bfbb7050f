// Package errs classifies pipeline failures so callers can tell retriable
// timeouts from hard upstream errors.
package errs

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidImage        Kind = "invalid_image"
	KindUnavailableProvider Kind = "unavailable_provider"
	KindUpstream            Kind = "upstream_error"
	KindTimeout             Kind = "timeout"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindNotFound            Kind = "not_found"
	KindUnknown             Kind = "unknown"
)

// Error is a classified failure. Provider is set for failures reported by a
// background remover so the caller can switch providers on quota errors.
type Error struct {
	Kind     Kind
	Op       string
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix += ":" + e.Provider
	}
	if e.Op != "" {
		prefix += ":" + e.Op
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. An error that already carries a classification keeps it.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// WithProvider stamps the provider identity on a classified error. Unclassified
// errors become upstream errors of that provider.
func WithProvider(provider string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		if typed.Provider == "" {
			typed.Provider = provider
		}
		return err
	}

	return &Error{Kind: KindUpstream, Provider: provider, Message: "provider failure", Cause: err}
}

// FromContext maps an expired or cancelled context to a timeout. It returns
// nil when ctx is still live.
func FromContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindTimeout, Op: op, Message: "deadline exceeded", Cause: err}
	}
	return nil
}

// KindOf returns the classification of err, KindUnknown when none is present.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ProviderOf returns the provider recorded on err, if any.
func ProviderOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Provider
	}
	return ""
}

// Retriable reports whether resubmitting the same request may succeed.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindUpstream:
		return true
	default:
		return false
	}
}
