// Package engineerr provides the structured error kinds used to classify
// every failure the engine can produce. Errors are never used as
// control flow for per-job outcomes: a job failure is recorded as a
// diagnostic on its result, not returned up the call stack.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so callers (the runner's retry policy, the
// CLI's exit code selection) can branch on failure category without string
// matching.
type Kind string

const (
	// UserInput marks malformed inputs or blueprints. Never retried; fails
	// the whole operation.
	UserInput Kind = "user_input"
	// MissingRequiredInput marks a declared input with no value and no
	// binding. Fails the job deterministically.
	MissingRequiredInput Kind = "missing_required_input"
	// ConditionFalse marks a job excluded by an input condition predicate.
	// Recorded as skipped, not failed.
	ConditionFalse Kind = "condition_false"
	// UpstreamFailed marks a job skipped because an ancestor failed.
	UpstreamFailed Kind = "upstream_failed"
	// ProviderTransient marks a timeout, 5xx, or quota error. Retried with
	// exponential backoff bounded by maxAttempts and the rateKey's budget.
	ProviderTransient Kind = "provider_transient"
	// ProviderPermanent marks a 4xx, schema violation, or missing output
	// field. Recorded as failed immediately, never retried.
	ProviderPermanent Kind = "provider_permanent"
	// StorageFailure marks an I/O error against the storage context.
	// Retried briefly, then surfaced.
	StorageFailure Kind = "storage_failure"
	// CycleDetected marks a graph build error: the producer graph is not a
	// DAG. Aborts before planning.
	CycleDetected Kind = "cycle_detected"
	// ConflictingDimensions marks a graph build error: two parents feeding
	// one child declare the same dimension name with different extents, or
	// declare different orderBy fields into a single fan-in. Aborts before
	// planning.
	ConflictingDimensions Kind = "conflicting_dimensions"
)

// Error is a structured engine failure carrying its Kind, a human-readable
// message, and an optional wrapped cause. Error chains compose so
// errors.Is/errors.As work across retries and nested causes.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping cause. The result
// always carries kind, even when cause is itself an *Error of another kind;
// Is matches against the outermost *Error in the chain.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	if cause == nil {
		return New(kind, format, args...)
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap returns the wrapped cause, supporting errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether err is an *Error of the given kind, or wraps one.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Retriable reports whether a job attempt that failed with this error should
// be retried (§7 propagation policy). Only ProviderTransient and
// StorageFailure are retried; every other kind is terminal for the attempt.
func Retriable(err error) bool {
	return Is(err, ProviderTransient) || Is(err, StorageFailure)
}
