// Package failure classifies errors raised while resolving and fetching
// documents so callers can decide between retrying, caching a negative
// outcome, or reporting the problem to the agent.
package failure

import "errors"

// Category groups failures by how the resolver must react to them.
type Category string

const (
	CategoryInvalidInput     Category = "invalid_input"
	CategoryPolicyBlocked    Category = "policy_blocked"
	CategoryNotFound         Category = "not_found"
	CategoryClientRefused    Category = "client_refused"
	CategoryIOFailure        Category = "io_failure"
	CategoryNetworkTransient Category = "network_transient"
	CategoryNetworkPermanent Category = "network_permanent"
	CategoryInternalFailure  Category = "internal_failure"
)

type classifiedError struct {
	category  Category
	code      string
	hint      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap attaches a category, a stable machine-readable code, a human hint
// and the retry classification to cause. A nil cause stays nil.
func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		hint:      hint,
		retryable: retryable,
		cause:     cause,
	}
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

// RetryableOf reports whether err was classified as transient.
// Unclassified errors are never retryable.
func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}
	return false
}
