package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMegaBrainError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with MegaBrainError
	mbErr := New(ErrCodeBackendFailure, "keyword backend failed", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, mbErr)
	assert.Equal(t, originalErr, errors.Unwrap(mbErr))
	assert.True(t, errors.Is(mbErr, originalErr))
}

func TestMegaBrainError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "backend timeout",
			code:     ErrCodeBackendTimeout,
			message:  "vector backend timed out",
			expected: "[ERR_302_BACKEND_TIMEOUT] vector backend timed out",
		},
		{
			name:     "validation error",
			code:     ErrCodeInvalidArgument,
			message:  "query_text is required",
			expected: "[ERR_401_INVALID_ARGUMENT] query_text is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestMegaBrainError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with the same code
	err1 := New(ErrCodeBackendTimeout, "keyword timed out", nil)
	err2 := New(ErrCodeBackendTimeout, "vector timed out", nil)

	// Then: they match by code
	assert.True(t, errors.Is(err1, err2))
}

func TestMegaBrainError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	// Given: two errors with different codes
	err1 := New(ErrCodeBackendTimeout, "timed out", nil)
	err2 := New(ErrCodeConfigNotFound, "config not found", nil)

	// Then: they don't match
	assert.False(t, errors.Is(err1, err2))
}

func TestMegaBrainError_WithDetails_AddsContext(t *testing.T) {
	// Given: a base error
	err := New(ErrCodeBackendFailure, "keyword backend failed", nil)

	// When: adding details
	err = err.WithDetail("backend", "keyword")
	err = err.WithDetail("repository_url", "github.com/example/repo")

	// Then: details are available
	assert.Equal(t, "keyword", err.Details["backend"])
	assert.Equal(t, "github.com/example/repo", err.Details["repository_url"])
}

func TestMegaBrainError_WithSuggestion_AddsSuggestion(t *testing.T) {
	// Given: a backend timeout error
	err := New(ErrCodeBackendTimeout, "vector backend timed out", nil)

	// When: adding a suggestion
	err = err.WithSuggestion("increase the vector backend deadline")

	// Then: suggestion is available
	assert.Equal(t, "increase the vector backend deadline", err.Suggestion)
}

func TestMegaBrainError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigNotFound, CategoryConfig},
		{ErrCodeStaleWrite, CategoryConfig},
		{ErrCodeBackendTimeout, CategoryBackend},
		{ErrCodeBackendUnavailable, CategoryBackend},
		{ErrCodeInvalidArgument, CategoryValidation},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
		{ErrCodeInvariantViolation, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestMegaBrainError_KindFromCode(t *testing.T) {
	tests := []struct {
		code     string
		wantKind Kind
	}{
		{ErrCodeInvalidArgument, KindInvalidArgument},
		{ErrCodeBackendUnavailable, KindBackendUnavailable},
		{ErrCodeBackendTimeout, KindBackendTimeout},
		{ErrCodeBackendFailure, KindBackendFailure},
		{ErrCodeAllBackendsFailed, KindAllBackendsFailed},
		{ErrCodeStaleWrite, KindStaleWrite},
		{ErrCodeInvariantViolation, KindInternalInvariantViolation},
	}

	for _, tt := range tests {
		t.Run(string(tt.wantKind), func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantKind, err.Kind)
		})
	}
}

func TestMegaBrainError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeAllBackendsFailed, SeverityFatal},
		{ErrCodeInvariantViolation, SeverityFatal},
		{ErrCodeConfigNotFound, SeverityError},
		{ErrCodeBackendTimeout, SeverityWarning}, // retryable, so warning
		{ErrCodeBackendUnavailable, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestMegaBrainError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeBackendTimeout, true},
		{ErrCodeBackendUnavailable, true},
		{ErrCodeBackendFailure, true},
		{ErrCodeAllBackendsFailed, false},
		{ErrCodeConfigNotFound, false},
		{ErrCodeInvariantViolation, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesMegaBrainErrorFromError(t *testing.T) {
	// Given: a standard error
	originalErr := errors.New("something went wrong")

	// When: wrapping with a code
	mbErr := Wrap(ErrCodeInternal, originalErr)

	// Then: creates a proper MegaBrainError
	require.NotNil(t, mbErr)
	assert.Equal(t, ErrCodeInternal, mbErr.Code)
	assert.Equal(t, "something went wrong", mbErr.Message)
	assert.Equal(t, originalErr, mbErr.Cause)
}

func TestInvalidArgument_CreatesValidationCategoryError(t *testing.T) {
	err := InvalidArgument("limit must be positive", nil)

	assert.Equal(t, CategoryValidation, err.Category)
	assert.Equal(t, KindInvalidArgument, err.Kind)
}

func TestBackendUnavailable_CreatesRetryableBackendError(t *testing.T) {
	err := BackendUnavailable("vector", nil)

	assert.Equal(t, CategoryBackend, err.Category)
	assert.True(t, err.Retryable)
	assert.Equal(t, "vector", err.Details["backend"])
}

func TestBackendTimeout_CreatesRetryableBackendError(t *testing.T) {
	err := BackendTimeout("keyword", nil)

	assert.Equal(t, CategoryBackend, err.Category)
	assert.True(t, err.Retryable)
}

func TestAllBackendsFailed_IsNotRetryableAndFatal(t *testing.T) {
	err := AllBackendsFailed(nil)

	assert.False(t, err.Retryable)
	assert.Equal(t, SeverityFatal, err.Severity)
}

func TestStaleWrite_CarriesRepositoryURL(t *testing.T) {
	err := StaleWrite("github.com/example/repo")

	assert.Equal(t, KindStaleWrite, err.Kind)
	assert.Equal(t, "github.com/example/repo", err.Details["repository_url"])
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable backend timeout",
			err:      New(ErrCodeBackendTimeout, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable config error",
			err:      New(ErrCodeConfigNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(ErrCodeBackendTimeout, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "all backends failed is fatal",
			err:      New(ErrCodeAllBackendsFailed, "all backends failed", nil),
			expected: true,
		},
		{
			name:     "invariant violation is fatal",
			err:      New(ErrCodeInvariantViolation, "negative score", nil),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      New(ErrCodeConfigNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}
