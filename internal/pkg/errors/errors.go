// Package errors provides custom error types and error handling utilities.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes.
const (
	// Caller errors.
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeCollision    = "COLLISION"
	CodeConfig       = "CONFIG_ERROR"

	// Infrastructure errors.
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout     = "TIMEOUT"
)

// Process exit codes used by the CLI.
const (
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitCollision    = 3
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit status for this error.
func (e *AppError) ExitCode() int {
	switch e.Code {
	case CodeInvalidInput, CodeConfig:
		return ExitInvalidInput
	case CodeCollision:
		return ExitCollision
	default:
		return ExitFailure
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// InvalidInputError creates an invalid input error.
func InvalidInputError(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// MissingFieldError reports a required field that is absent.
func MissingFieldError(field string) *AppError {
	return New(CodeInvalidInput, fmt.Sprintf("missing required field %s", field)).
		WithDetail("field", field)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// CollisionError reports an identifier already bound to different content.
func CollisionError(id string) *AppError {
	return New(CodeCollision, fmt.Sprintf("identifier %s already issued for a different record", id)).
		WithDetail("id", id)
}

// ConfigError creates a configuration error.
func ConfigError(message string, err error) *AppError {
	return Wrap(CodeConfig, message, err)
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// TimeoutError creates a timeout error for a specific operation.
func TimeoutError(operation string) *AppError {
	message := "operation timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeTimeout, message)
}

// ServiceUnavailableError creates a service unavailable error.
func ServiceUnavailableError(service string) *AppError {
	message := "service unavailable"
	if service != "" {
		message = fmt.Sprintf("%s is unavailable", service)
	}
	return New(CodeUnavailable, message)
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsInvalidInput checks if error is an invalid input error.
func IsInvalidInput(err error) bool {
	return CodeOf(err) == CodeInvalidInput
}

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsCollision checks if error is an identifier collision.
func IsCollision(err error) bool {
	return CodeOf(err) == CodeCollision
}

// ExitCode returns the CLI exit status for any error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.ExitCode()
	}
	return ExitFailure
}
