// Package exception provides the error type shared by the ETL pipeline stages.
// It standardizes errors so callers can classify them as transient (retryable
// at the scheduler level) or fatal (abort the run).
package exception

import (
	"errors"
	"fmt"
	"strings"
)

// ETLError is the error type raised by pipeline components. It carries the
// module where the error occurred, a concise message, the wrapped cause and
// a flag indicating whether the scheduler may retry the run.
type ETLError struct {
	// Module indicates the component where the error occurred
	// (e.g., "gap_detector", "fetcher", "loader", "config").
	Module string
	// Message is a concise description of the failure.
	Message string
	// OriginalErr is the wrapped cause, if any.
	OriginalErr error
	// isRetryable indicates whether a later run may succeed without
	// operator intervention.
	isRetryable bool
}

// NewETLError creates a new ETLError instance.
func NewETLError(module, message string, originalErr error, isRetryable bool) *ETLError {
	return &ETLError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
	}
}

// NewETLErrorf creates a new non-retryable ETLError with a formatted message.
func NewETLErrorf(module, format string, a ...interface{}) *ETLError {
	return &ETLError{
		Module:  module,
		Message: fmt.Sprintf(format, a...),
	}
}

// Error implements the error interface.
func (e *ETLError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *ETLError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether a later run may succeed without intervention.
func (e *ETLError) IsRetryable() bool {
	return e.isRetryable
}

// IsTemporary classifies an error as transient I/O failure. An ETLError's
// retryable flag takes precedence; for other errors the message is matched
// against common network failure signatures.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var ee *ETLError
	if errors.As(err, &ee) {
		return ee.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset")
}

// ExtractErrorMessage extracts the message from an error. For ETLError it
// returns the cleaner Message field; otherwise the standard Error() string.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if ee, ok := err.(*ETLError); ok {
		return ee.Message
	}
	return err.Error()
}
