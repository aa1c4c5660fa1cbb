package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned when a task id is unknown to the store
	ErrTaskNotFound = errors.New("task not found")
	// ErrActionNotAllowed is returned when an action is illegal for the task's current status
	ErrActionNotAllowed = errors.New("action not allowed in current status")
	// ErrEmptyResponse is returned when the remote answers with no body
	ErrEmptyResponse = errors.New("empty response body")
)

// BackendError represents an error from a remote operation
// It provides structured error information including HTTP status codes,
// operation context, and the underlying error message
type BackendError struct {
	Operation  string // e.g., "FetchTasks", "SubmitActions"
	StatusCode int    // HTTP status code (0 if not an HTTP error)
	Message    string // Human-readable error message
	TaskID     string // Optional: affected task id
	Body       string // Optional: response body for debugging
	Err        error  // Optional: underlying error
}

// Error implements the error interface
func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the underlying error for error wrapping
func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error is a 404 Not Found
func (e *BackendError) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsUnauthorized returns true if the error is a 401 Unauthorized or 403 Forbidden
func (e *BackendError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsServerError returns true if the error is a 5xx server error
func (e *BackendError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NewBackendError creates a new BackendError
func NewBackendError(operation string, statusCode int, message string) *BackendError {
	return &BackendError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
	}
}

// WithTaskID adds the task id to the error for context
func (e *BackendError) WithTaskID(id string) *BackendError {
	e.TaskID = id
	return e
}

// WithBody adds the response body to the error for debugging
func (e *BackendError) WithBody(body string) *BackendError {
	e.Body = body
	return e
}

// WithError wraps an underlying error
func (e *BackendError) WithError(err error) *BackendError {
	e.Err = err
	return e
}

// IsServerError reports whether err carries a 5xx status anywhere in its chain
func IsServerError(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.IsServerError()
}
