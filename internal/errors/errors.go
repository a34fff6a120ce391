// Package errors provides structured error types for eventdeck.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure class.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCache      ErrorCategory = "CACHE"
	ErrCategoryLookup     ErrorCategory = "LOOKUP"
	ErrCategoryAnalytics  ErrorCategory = "ANALYTICS"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidAction     = "INVALID_ACTION"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeInvalidInput      = "INVALID_INPUT"

	// Not found codes
	CodeEventNotFound    = "EVENT_NOT_FOUND"
	CodeWrongContentType = "WRONG_CONTENT_TYPE"
	CodeObjectNotFound   = "OBJECT_NOT_FOUND"

	// Storage codes
	CodeQueryFailed  = "QUERY_FAILED"
	CodeWriteFailed  = "WRITE_FAILED"
	CodeUploadFailed = "UPLOAD_FAILED"

	// Cache codes
	CodeCacheUnavailable = "CACHE_UNAVAILABLE"
	CodeCodecFailed      = "CODEC_FAILED"

	// Lookup codes
	CodeLookupFailed  = "LOOKUP_FAILED"
	CodeLookupTimeout = "LOOKUP_TIMEOUT"

	// Analytics codes
	CodeRecordDropped = "RECORD_DROPPED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// EventDeckError is the structured error type used throughout the system.
type EventDeckError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *EventDeckError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *EventDeckError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *EventDeckError) Is(target error) bool {
	var t *EventDeckError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new EventDeckError.
func New(category ErrorCategory, code, message string) *EventDeckError {
	return &EventDeckError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new EventDeckError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *EventDeckError {
	return &EventDeckError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *EventDeckError) WithDetails(details map[string]interface{}) *EventDeckError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *EventDeckError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsNotFound reports whether err signals a missing or non-event record.
func IsNotFound(err error) bool {
	return GetCategory(err) == ErrCategoryNotFound
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an EventDeckError.
func GetCategory(err error) ErrorCategory {
	var de *EventDeckError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an EventDeckError.
func GetCode(err error) string {
	var de *EventDeckError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeQueryFailed:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryLookup && code == CodeLookupTimeout:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *EventDeckError {
	return New(ErrCategoryValidation, code, message)
}

func NewNotFoundError(code, message string) *EventDeckError {
	return New(ErrCategoryNotFound, code, message)
}

func NewStorageError(code, message string, cause error) *EventDeckError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCacheError(code, message string, cause error) *EventDeckError {
	return Wrap(ErrCategoryCache, code, message, cause)
}

func NewLookupError(code, message string, cause error) *EventDeckError {
	return Wrap(ErrCategoryLookup, code, message, cause)
}

func NewAnalyticsError(code, message string, cause error) *EventDeckError {
	return Wrap(ErrCategoryAnalytics, code, message, cause)
}

func NewInternalError(message string, cause error) *EventDeckError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
