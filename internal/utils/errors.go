package utils

import (
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a helpful suggestion for the user
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// Common error constructors with suggestions

// ErrTaskNotFound creates an error when a task id is unknown locally
func ErrTaskNotFound(taskID string, cause error) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task '%s' not found: %w", taskID, cause),
		Suggestion: "Run 'fieldsync tasks' to list your tasks, or 'fieldsync sync' to fetch new assignments",
	}
}

// ErrActionNotAllowed creates an error when an action is illegal in the task's status
func ErrActionNotAllowed(taskID, action, status string, available []string, cause error) error {
	suggestion := fmt.Sprintf("Task '%s' is %s and accepts no further actions", taskID, status)
	if len(available) > 0 {
		suggestion = fmt.Sprintf("Allowed actions for task '%s' (%s): %s", taskID, status, strings.Join(available, ", "))
	}
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("cannot %s task '%s' in status %s: %w", action, taskID, status, cause),
		Suggestion: suggestion,
	}
}

// ErrInvalidValue creates an error for an unrecognized enum value
func ErrInvalidValue(kind, value string, valid []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid %s: %s", kind, value),
		Suggestion: fmt.Sprintf("Valid values: %s", strings.Join(valid, ", ")),
	}
}

// ErrInvalidCoordinates creates an error for out-of-range coordinates
func ErrInvalidCoordinates(lat, lng float64) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid coordinates %.6f,%.6f", lat, lng),
		Suggestion: "Latitude must be within -90..90 and longitude within -180..180",
	}
}

// ErrRiderNotConfigured creates an error when no rider id is set
func ErrRiderNotConfigured() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("rider id is not configured"),
		Suggestion: "Set 'rider_id' in ~/.config/fieldsync/config.yaml or export FIELDSYNC_RIDER_ID",
	}
}

// ErrServerNotConfigured creates an error when the server URL is missing
func ErrServerNotConfigured() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task server URL is not configured"),
		Suggestion: "Set 'api.base_url' in ~/.config/fieldsync/config.yaml or export FIELDSYNC_API_BASE_URL",
	}
}

// ErrServerOffline creates an error when the task server cannot be reached
func ErrServerOffline(reason string) error {
	suggestion := "Check your connection; recorded actions stay queued and sync later"
	if strings.Contains(reason, "DNS") || strings.Contains(reason, "no such host") {
		suggestion = "Check your DNS settings and internet connection"
	} else if strings.Contains(reason, "refused") {
		suggestion = "Check if the server is running and accessible"
	} else if strings.Contains(reason, "timeout") {
		suggestion = "The server may be slow or unreachable. Try again later"
	}

	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task server is unreachable: %s", reason),
		Suggestion: suggestion,
	}
}

// ErrTokenNotFound creates an error when no API token can be resolved
func ErrTokenNotFound(riderID string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no API token found for rider %s", riderID),
		Suggestion: "Store one with 'fieldsync credentials set --prompt' or export FIELDSYNC_API_TOKEN",
	}
}

// ErrAuthenticationFailed creates an error when the server rejects the token
func ErrAuthenticationFailed() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("authentication with the task server failed"),
		Suggestion: "Check the stored token with 'fieldsync credentials get' and update it if needed",
	}
}

// ErrSyncBusy creates an error when a sync is already running
func ErrSyncBusy(cause error) error {
	return &ErrorWithSuggestion{
		Err:        cause,
		Suggestion: "Another sync is running; wait for it to finish or check 'fieldsync sync status'",
	}
}

// ErrInvalidConfig creates an error for invalid configuration
func ErrInvalidConfig(field string, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid configuration for '%s': %s", field, reason),
		Suggestion: fmt.Sprintf("Check ~/.config/fieldsync/config.yaml and fix the '%s' field", field),
	}
}

// WrapWithSuggestion wraps an existing error with a suggestion
func WrapWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}
