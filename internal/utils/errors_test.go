package utils

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorWithSuggestionImplementsError verifies interface compliance
func TestErrorWithSuggestionImplementsError(t *testing.T) {
	var _ error = &ErrorWithSuggestion{}
}

// TestErrorWithSuggestionError verifies Error() method output
func TestErrorWithSuggestionError(t *testing.T) {
	err := &ErrorWithSuggestion{
		Err:        errors.New("something went wrong"),
		Suggestion: "Try doing X",
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "something went wrong") {
		t.Errorf("Error() should contain error message, got: %s", errStr)
	}
	if !strings.Contains(errStr, "Suggestion: Try doing X") {
		t.Errorf("Error() should contain suggestion text, got: %s", errStr)
	}
}

// TestErrorWithSuggestionUnwrap verifies Unwrap() for error chain
func TestErrorWithSuggestionUnwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := WrapWithSuggestion(underlying, "suggestion")

	if errors.Unwrap(err) != underlying {
		t.Errorf("Unwrap() should return underlying error")
	}
}

// TestMessageDropsSuggestion verifies the banner text excludes the suggestion
func TestMessageDropsSuggestion(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), "boom"},
		{"with suggestion", WrapWithSuggestion(errors.New("boom"), "retry"), "boom"},
		{"wrapped suggestion", fmt.Errorf("create task: %w", ErrEntityNotFound("task", "t1")), "task not found: t1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.err); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestErrEntityNotFound verifies the NotFound class is matchable
func TestErrEntityNotFound(t *testing.T) {
	err := ErrEntityNotFound("shopping item", "nonexistent")

	if !errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(err, ErrNotFound) = false for %v", err)
	}
	if !strings.Contains(err.Error(), "nonexistent") {
		t.Errorf("error should name the id, got: %s", err.Error())
	}
	var ws *ErrorWithSuggestion
	if !errors.As(err, &ws) || ws.GetSuggestion() == "" {
		t.Error("ErrEntityNotFound should carry a suggestion")
	}
}

// TestErrRealtimeFailed verifies the refresh message
func TestErrRealtimeFailed(t *testing.T) {
	msg := Message(ErrRealtimeFailed())
	if !strings.Contains(msg, "please refresh") {
		t.Errorf("ErrRealtimeFailed message = %q, want it to ask for a refresh", msg)
	}
}

// TestErrBackendUnavailableSuggestions verifies reason-specific suggestions
func TestErrBackendUnavailableSuggestions(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"dial tcp: lookup api: no such host", "DNS"},
		{"connection refused", "server is running"},
		{"context deadline exceeded", "slow or unreachable"},
		{"database is locked", "Another process"},
		{"weird", "internet connection"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			var ws *ErrorWithSuggestion
			if !errors.As(ErrBackendUnavailable(tt.reason), &ws) {
				t.Fatal("expected *ErrorWithSuggestion")
			}
			if !strings.Contains(ws.Suggestion, tt.want) {
				t.Errorf("suggestion = %q, want it to contain %q", ws.Suggestion, tt.want)
			}
		})
	}
}
