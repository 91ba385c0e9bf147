package errors

// Category classifies errors by their retry semantics.
type Category string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: broker connection refused, blocking read interrupted.
	CategoryTransient Category = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: oversized message, missing required field.
	CategoryPermanent Category = "permanent"

	// CategoryResource indicates quota exhaustion. Retry may succeed once the
	// window rolls over.
	CategoryResource Category = "resource"

	// CategoryInternal indicates unexpected failures and bugs.
	CategoryInternal Category = "internal"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// Retryable returns true if errors in this category may succeed on retry.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// Code identifies a specific failure type.
type Code string

const (
	// CodeValidation marks a malformed message. Fatal to the single send.
	CodeValidation Code = "VALIDATION"

	// CodeBrokerUnavailable marks exhausted delivery retries. The message has
	// been appended to the local fallback journal before this is returned.
	CodeBrokerUnavailable Code = "BROKER_UNAVAILABLE"

	// CodeRateLimited marks a per-agent send quota violation.
	CodeRateLimited Code = "RATE_LIMITED"

	// CodeTimeout marks a bounded wait that elapsed.
	CodeTimeout Code = "TIMEOUT"

	// CodeCanceled marks a cooperative cancellation.
	CodeCanceled Code = "CANCELED"

	// CodeInternal marks an unexpected failure.
	CodeInternal Code = "INTERNAL"
)

// defaultCategory maps each code to its category.
var defaultCategory = map[Code]Category{
	CodeValidation:        CategoryPermanent,
	CodeBrokerUnavailable: CategoryTransient,
	CodeRateLimited:       CategoryResource,
	CodeTimeout:           CategoryTransient,
	CodeCanceled:          CategoryPermanent,
	CodeInternal:          CategoryInternal,
}

// CategoryOf returns the default category for a code.
func CategoryOf(code Code) Category {
	if c, ok := defaultCategory[code]; ok {
		return c
	}
	return CategoryInternal
}
