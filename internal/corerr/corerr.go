// Package corerr is the narrow error taxonomy spec.md §7 describes:
// configuration, client, transient-provider, billing, model, storage, and
// cancellation categories, each carrying enough structure for a caller to
// decide whether to retry, fail over, or surface the error unchanged.
package corerr

import (
	"errors"
	"fmt"
)

// Category is one of the taxonomy's abstract error categories. It is
// deliberately narrow — spec.md §7 warns against a deep type hierarchy.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryClient        Category = "client"
	CategoryTransient     Category = "transient"
	CategoryBilling       Category = "billing"
	CategoryModel         Category = "model"
	CategoryStorage       Category = "storage"
	CategoryCancellation  Category = "cancellation"
)

// Retryable reports whether the category is, in general, worth retrying
// against the same backend.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTransient:
		return true
	default:
		return false
	}
}

// CoreError is the structured error every package in this module wraps
// client-facing failures in before returning them up to a command response
// or step result.
type CoreError struct {
	Category Category
	Op       string // the operation that failed, e.g. "ai/generate", "recall"
	Message  string
	Cause    error
}

func (e *CoreError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Category, e.Op, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Category, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// New builds a CoreError with a formatted message.
func New(category Category, op, format string, args ...any) *CoreError {
	return &CoreError{Category: category, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a CoreError around an existing cause, preserving it for
// errors.Unwrap/errors.Is chains.
func Wrap(category Category, op string, cause error) *CoreError {
	if cause == nil {
		return nil
	}
	return &CoreError{Category: category, Op: op, Message: cause.Error(), Cause: cause}
}

// Configuration wraps a configuration-category error: missing API key,
// unsupported architecture, malformed model metadata. Per spec.md §7 the
// affected adapter/backend is dropped from the available set by the caller,
// not by corerr.
func Configuration(op, format string, args ...any) *CoreError {
	return New(CategoryConfiguration, op, format, args...)
}

// Client wraps a client-category error: invalid command params, unknown
// command, context-window overflow, path-security violations. Returned to
// the caller unchanged; never retried.
func Client(op, format string, args ...any) *CoreError {
	return New(CategoryClient, op, format, args...)
}

// Transient wraps a transient provider error: network timeout, 5xx, 429.
// Retryable; the caller decides whether to retry the same provider.
func Transient(op string, cause error) *CoreError {
	return Wrap(CategoryTransient, op, cause)
}

// Billing wraps an insufficient-funds/billing error, surfaced as a distinct
// provider health state rather than a generic failure.
func Billing(op, format string, args ...any) *CoreError {
	return New(CategoryBilling, op, format, args...)
}

// Model wraps a model-category error: NaN/Inf in logits, sampler failure
// after sanitization, context overflow during decode.
func Model(op, format string, args ...any) *CoreError {
	return New(CategoryModel, op, format, args...)
}

// Storage wraps a storage error. Per spec.md §7 these bubble up as strings;
// the core never interprets them as retryable.
func Storage(op string, cause error) *CoreError {
	return Wrap(CategoryStorage, op, cause)
}

// ErrCancelled is the sentinel terminal state for a cancelled pipeline or
// operation, distinct from failure per spec.md §7.
var ErrCancelled = &CoreError{Category: CategoryCancellation, Message: "cancelled"}

// Cancelled reports whether err is (or wraps) a cancellation.
func Cancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || CategoryOf(err) == CategoryCancellation
}

// CategoryOf extracts the Category from err if it is (or wraps) a
// *CoreError, or "" otherwise.
func CategoryOf(err error) Category {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// Retryable reports whether err should be retried against the same backend.
func Retryable(err error) bool {
	return CategoryOf(err).Retryable()
}
