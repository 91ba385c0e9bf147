package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Wrap wraps err with a code and message, preserving the error chain.
// Returns nil if err is nil.
func Wrap(err error, code Code, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Wrapf wraps err with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// FromContext converts a context error into a bus error.
func FromContext(err error, message string) *Error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(err, CodeTimeout, message)
	case stderrors.Is(err, context.Canceled):
		return Wrap(err, CodeCanceled, message)
	default:
		return Wrap(err, CodeInternal, message)
	}
}

// Is reports whether any error in the chain carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.code == code
	}
	return false
}

// Retryable reports whether err is a bus error in a retryable category.
// Unknown errors are treated as retryable so that transport-level failures
// from the broker client keep the listener loops alive.
func Retryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable()
	}
	return err != nil
}
