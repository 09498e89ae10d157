package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryServer   ErrorCategory = "server"
	CategoryExternal ErrorCategory = "external"
)

// Common error codes
const (
	// Client errors
	CodeValidationError = "VALIDATION_ERROR"
	CodeJobNotFound     = "JOB_NOT_FOUND"
	CodeInvalidStatus   = "INVALID_STATUS"
	CodeRetryExhausted  = "RETRY_EXHAUSTED"

	// Server errors
	CodeQueueError   = "QUEUE_ERROR"
	CodePublishError = "PUBLISH_ERROR"

	// External process errors
	CodeLaunchFailure  = "LAUNCH_FAILURE"
	CodeRuntimeFailure = "RUNTIME_FAILURE"
	CodeCancelled      = "CANCELLED"
)

// AppError represents a structured application error
type AppError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Category ErrorCategory  `json:"-"`
	Details  map[string]any `json:"details,omitempty"`
	Cause    error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Category: category,
	}
}

// Client error constructors

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message, CategoryClient)
}

func JobNotFound(jobID string) *AppError {
	return New(CodeJobNotFound, fmt.Sprintf("job %s not found", jobID), CategoryClient)
}

func InvalidStatus(jobID, status string) *AppError {
	return New(CodeInvalidStatus, fmt.Sprintf("job %s is %s", jobID, status), CategoryClient)
}

func RetryExhausted(jobID string) *AppError {
	return New(CodeRetryExhausted, fmt.Sprintf("job %s has no retries left", jobID), CategoryClient)
}

// Server error constructors

func QueueError(message string) *AppError {
	return New(CodeQueueError, message, CategoryServer)
}

func PublishError(message string) *AppError {
	return New(CodePublishError, message, CategoryServer)
}

// External process error constructors

// LaunchFailure means the downloader executable could not be found or
// spawned. No output was captured.
func LaunchFailure(err error) *AppError {
	return New(CodeLaunchFailure, "failed to launch downloader", CategoryExternal).WithCause(err)
}

// RuntimeFailure means the downloader exited non-zero. The trailing output
// lines are attached as diagnostic detail.
func RuntimeFailure(exitCode int, tail []string) *AppError {
	return New(CodeRuntimeFailure, fmt.Sprintf("downloader exited with code %d", exitCode), CategoryExternal).
		WithDetails(map[string]any{"exit_code": exitCode, "output_tail": tail})
}

// Cancelled means the job was terminated by an explicit caller request. It is
// distinct from a failure.
func Cancelled(jobID string) *AppError {
	return New(CodeCancelled, fmt.Sprintf("job %s cancelled by caller", jobID), CategoryExternal)
}

// Code returns the AppError code of err, or empty when err is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsLaunchFailure returns true if the error is a launch failure
func IsLaunchFailure(err error) bool {
	return Code(err) == CodeLaunchFailure
}

// IsCancelled returns true if the error is a caller cancellation
func IsCancelled(err error) bool {
	return Code(err) == CodeCancelled
}

// IsExternalError returns true if the error is an external process error
func IsExternalError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Category == CategoryExternal
}
