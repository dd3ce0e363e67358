package errors

import (
	"fmt"
)

// MegaBrainError is the structured error type used across the search
// orchestration subsystem. It carries enough context for logging and for
// callers to distinguish the spec-level error Kind without string-matching
// messages.
type MegaBrainError struct {
	// Code is the unique error code (e.g., "ERR_302_BACKEND_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Backend, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Kind is the spec-level taxonomy entry this error represents.
	Kind Kind

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the caller.
	Suggestion string
}

// Error implements the error interface.
func (e *MegaBrainError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *MegaBrainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code, enabling
// errors.Is() to work with MegaBrainError.
func (e *MegaBrainError) Is(target error) bool {
	if t, ok := target.(*MegaBrainError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error. Returns the error for
// method chaining.
func (e *MegaBrainError) WithDetail(key, value string) *MegaBrainError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion. Returns the error for method
// chaining.
func (e *MegaBrainError) WithSuggestion(suggestion string) *MegaBrainError {
	e.Suggestion = suggestion
	return e
}

// New creates a new MegaBrainError with the given code and message. Category,
// severity, kind, and retryable flag are all derived from the code.
func New(code string, message string, cause error) *MegaBrainError {
	return &MegaBrainError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Kind:      kindFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a MegaBrainError from an existing error, carrying the
// original error's message forward as the MegaBrainError message.
func Wrap(code string, err error) *MegaBrainError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidArgument creates a validation error for a malformed SearchRequest
// field (query_text, limit, depth, embedding dimension, ...).
func InvalidArgument(message string, cause error) *MegaBrainError {
	return New(ErrCodeInvalidArgument, message, cause)
}

// BackendUnavailable creates an error for a backend that is not configured
// or not reachable at all (e.g. no vector index configured for a repository).
func BackendUnavailable(backend string, cause error) *MegaBrainError {
	return New(ErrCodeBackendUnavailable, fmt.Sprintf("%s backend unavailable", backend), cause).
		WithDetail("backend", backend)
}

// BackendTimeout creates an error for a backend leg that exceeded its
// per-backend deadline.
func BackendTimeout(backend string, cause error) *MegaBrainError {
	return New(ErrCodeBackendTimeout, fmt.Sprintf("%s backend timed out", backend), cause).
		WithDetail("backend", backend)
}

// BackendFailure creates an error for a backend leg that returned an error
// other than a timeout or unavailability.
func BackendFailure(backend string, cause error) *MegaBrainError {
	return New(ErrCodeBackendFailure, fmt.Sprintf("%s backend failed", backend), cause).
		WithDetail("backend", backend)
}

// AllBackendsFailed creates the escalated error returned to the caller when
// every fanned-out backend leg failed, timed out, or was unavailable.
func AllBackendsFailed(cause error) *MegaBrainError {
	return New(ErrCodeAllBackendsFailed, "all search backends failed", cause)
}

// StaleWrite creates the error IndexStateStore.Save returns when a write's
// timestamp is older than the currently persisted record.
func StaleWrite(repositoryURL string) *MegaBrainError {
	return New(ErrCodeStaleWrite, "rejected stale write to index state", nil).
		WithDetail("repository_url", repositoryURL)
}

// InternalInvariantViolation creates an error for a condition the code
// assumes can never happen (e.g. a merge producing a negative score).
func InternalInvariantViolation(message string, cause error) *MegaBrainError {
	return New(ErrCodeInvariantViolation, message, cause)
}

// IsRetryable checks if an error is retryable. Returns true only for
// MegaBrainErrors with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*MegaBrainError); ok {
		return me.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*MegaBrainError); ok {
		return me.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a MegaBrainError. Returns empty
// string if not a MegaBrainError.
func GetCode(err error) string {
	if me, ok := err.(*MegaBrainError); ok {
		return me.Code
	}
	return ""
}

// GetKind extracts the spec-level Kind from a MegaBrainError. Returns empty
// string if not a MegaBrainError.
func GetKind(err error) Kind {
	if me, ok := err.(*MegaBrainError); ok {
		return me.Kind
	}
	return ""
}
