package errors

import (
	"fmt"
	"maps"
)

// Error is a structured bus error.
type Error struct {
	code     Code
	category Category
	message  string
	cause    error
	metadata map[string]string
}

// New creates an Error with the given code and message.
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: CategoryOf(code),
		message:  message,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the failure type.
func (e *Error) Code() Code {
	return e.code
}

// Category returns the retry category.
func (e *Error) Category() Category {
	return e.category
}

// Retryable reports whether the operation may succeed on retry.
func (e *Error) Retryable() bool {
	return e.category.Retryable()
}

// Metadata returns a copy of the error's metadata.
func (e *Error) Metadata() map[string]string {
	if e.metadata == nil {
		return nil
	}
	return maps.Clone(e.metadata)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Option configures an Error.
type Option func(*Error)

// WithCause attaches an underlying error.
func WithCause(err error) Option {
	return func(e *Error) {
		e.cause = err
	}
}

// WithCategory overrides the default category for the code.
func WithCategory(cat Category) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}
