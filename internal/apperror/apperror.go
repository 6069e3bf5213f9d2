// Package apperror defines the error taxonomy shared by the orchestrator and
// the HTTP layer.
//
// Services return these errors; handlers translate them into one of the
// fixed JSON response shapes. The wrapped sentinel tells the handler WHICH
// shape to pick, the Message is only ever logged.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLaunch       = errors.New("launch failed")
	ErrGone         = errors.New("execution gone")
)

type AppError struct {
	Err     error  // sentinel from the list above
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying runtime error, never shown to clients
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Unauthorized returns an AppError for a failed admin token check.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// LaunchFailed reports that the runtime refused to start a container.
// The cause is kept for logging only.
func LaunchFailed(cause error) *AppError {
	return &AppError{
		Err:     ErrLaunch,
		Message: "container launch failed",
		Cause:   cause,
	}
}

// Gone reports that a registered execution disappeared from the runtime
// before it could be observed as finished (reaped, killed or crashed).
func Gone(token string, cause error) *AppError {
	return &AppError{
		Err:     ErrGone,
		Message: fmt.Sprintf("execution %s timed out or was removed", token),
		Cause:   cause,
	}
}
