package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by every error built with ErrEntityNotFound.
var ErrNotFound = errors.New("not found")

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// Message returns the text shown in an error banner: the error itself,
// without any attached suggestion.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ws *ErrorWithSuggestion
	if errors.As(err, &ws) {
		return ws.Err.Error()
	}
	return err.Error()
}

// ErrEntityNotFound returns an error for an id missing from the local cache.
func ErrEntityNotFound(kind, id string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%s %w: %s", kind, ErrNotFound, id),
		Suggestion: fmt.Sprintf("Refresh the %s list; it may have been deleted on another device", kind),
	}
}

// ErrRealtimeFailed returns the error recorded when a live update could not be applied.
func ErrRealtimeFailed() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("live updates failed, please refresh"),
		Suggestion: "Reload the view to fetch the latest data",
	}
}

// ErrInvalidPayload returns an error for a mutation payload the cache cannot apply.
func ErrInvalidPayload(err error) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: "Check the required fields and try again",
	}
}

// ErrScopeRequired returns an error when an operation needs a scope that was never loaded.
func ErrScopeRequired(scope string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no %s selected", scope),
		Suggestion: fmt.Sprintf("Load a %s first", scope),
	}
}

// ErrBackendUnavailable returns an error when the data service cannot be reached.
func ErrBackendUnavailable(reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("backend unavailable: %s", reason),
		Suggestion: getSmartSuggestion(reason),
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check your DNS settings and internet connection"
	}

	if strings.Contains(lowerReason, "connection refused") {
		return "Check if the server is running and accessible"
	}

	if strings.Contains(lowerReason, "timeout") || strings.Contains(lowerReason, "deadline exceeded") {
		return "The server may be slow or unreachable. Try again later"
	}

	if strings.Contains(lowerReason, "database is locked") {
		return "Another process is writing to the database. Try again in a moment"
	}

	return "Check your internet connection and try again"
}

// ErrInvalidDate returns an error for an invalid date string.
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid date: %s", dateStr),
		Suggestion: "Use YYYY-MM-DD, YYYY-MM-DDTHH:MM, today, tomorrow or +Nd/+Nw/+Nm",
	}
}

// ErrInvalidMonth returns an error for an invalid month string.
func ErrInvalidMonth(monthStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid month: %s", monthStr),
		Suggestion: "Use YYYY-MM (e.g., 2024-03)",
	}
}
