package errors

import (
	stderrors "errors"
	"fmt"
)

// SeekError is the structured error type for driveseek.
// It provides rich context for error handling, logging, and user presentation.
type SeekError struct {
	// Code is the unique error code (e.g., "ERR_201_INDEX_NOT_READY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Index, Search, Storage, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *SeekError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SeekError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with SeekError.
func (e *SeekError) Is(target error) bool {
	if t, ok := target.(*SeekError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *SeekError) WithDetail(key, value string) *SeekError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *SeekError) WithSuggestion(suggestion string) *SeekError {
	e.Suggestion = suggestion
	return e
}

// New creates a new SeekError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SeekError {
	return &SeekError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SeekError from an existing error.
// The error's message becomes the SeekError message.
func Wrap(code string, err error) *SeekError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// BuildError creates an index-build error.
func BuildError(message string, cause error) *SeekError {
	return New(ErrCodeBuildFailed, message, cause)
}

// NotReadyError creates a search-on-unbuilt-drive error.
// Not-ready errors are retryable: the drive may finish building.
func NotReadyError(message string, cause error) *SeekError {
	return New(ErrCodeIndexNotReady, message, cause)
}

// SnapshotError creates a snapshot storage error.
func SnapshotError(message string, cause error) *SeekError {
	return New(ErrCodeSnapshotIO, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *SeekError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *SeekError {
	return New(ErrCodeInternal, message, cause)
}

// asSeekError finds the first SeekError in err's chain, so callers
// that wrapped one with fmt.Errorf still get code-aware handling.
func asSeekError(err error) (*SeekError, bool) {
	var se *SeekError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if a SeekError in the chain has the Retryable flag set.
func IsRetryable(err error) bool {
	if se, ok := asSeekError(err); ok {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if se, ok := asSeekError(err); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a SeekError in err's chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if se, ok := asSeekError(err); ok {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a SeekError in err's chain.
// Returns empty string if there is none.
func GetCategory(err error) Category {
	if se, ok := asSeekError(err); ok {
		return se.Category
	}
	return ""
}
