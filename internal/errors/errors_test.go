package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestEventDeckError_Error(t *testing.T) {
	err := New(ErrCategoryNotFound, CodeEventNotFound, "event 42 not found")
	expected := "[NOT_FOUND:EVENT_NOT_FOUND] event 42 not found"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestEventDeckError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("database is locked")
	err := Wrap(ErrCategoryStorage, CodeQueryFailed, "find events", cause)
	expected := "[STORAGE:QUERY_FAILED] find events: database is locked"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestEventDeckError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryCache, CodeCacheUnavailable, "tier down", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestEventDeckError_Is(t *testing.T) {
	err1 := New(ErrCategoryNotFound, CodeEventNotFound, "first")
	err2 := New(ErrCategoryNotFound, CodeEventNotFound, "second")
	err3 := New(ErrCategoryNotFound, CodeWrongContentType, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeQueryFailed, true},
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeWriteFailed, false},
		{ErrCategoryLookup, CodeLookupTimeout, true},
		{ErrCategoryLookup, CodeLookupFailed, false},
		{ErrCategoryNotFound, CodeEventNotFound, false},
		{ErrCategoryValidation, CodeUnsupportedFormat, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NewNotFoundError(CodeWrongContentType, "page 7 is not an event")) {
		t.Error("wrong content type should count as not found")
	}
	wrapped := fmt.Errorf("get event: %w", NewNotFoundError(CodeEventNotFound, "missing"))
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through fmt wrapping")
	}
	if IsNotFound(NewStorageError(CodeQueryFailed, "boom", nil)) {
		t.Error("storage failure is not a not-found")
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := NewLookupError(CodeLookupTimeout, "geo lookup", nil)
	if GetCategory(err) != ErrCategoryLookup {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryLookup)
	}
	if GetCode(err) != CodeLookupTimeout {
		t.Errorf("got %q, want %q", GetCode(err), CodeLookupTimeout)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" || GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("plain errors should have no category or code")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewValidationError(CodeUnsupportedFormat, "bad format")
	detailed := err.WithDetails(map[string]interface{}{"format": "xml"})

	if detailed.Details["format"] != "xml" {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	s := NewStorageError(CodeWriteFailed, "insert", cause)
	if s.Category != ErrCategoryStorage || !errors.Is(s, cause) {
		t.Error("NewStorageError mismatch")
	}

	a := NewAnalyticsError(CodeRecordDropped, "queue full", nil)
	if a.Category != ErrCategoryAnalytics || a.Code != CodeRecordDropped {
		t.Error("NewAnalyticsError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
