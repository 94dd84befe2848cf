// Package apperr defines the error taxonomy shared by every service and maps it
// to HTTP status codes and wire error codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("resource not found")
	ErrConflict        = errors.New("conflict")
	ErrFeatureDisabled = errors.New("feature disabled")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrInternal        = errors.New("internal server error")
)

const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "RESOURCE_NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeFeatureDisabled = "FEATURE_DISABLED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
)

// Error carries a user-facing message and optional field details on top of a
// sentinel from this package.
type Error struct {
	Err     error
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ErrInternal.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind error, message string) *Error {
	return &Error{Err: kind, Message: message}
}

func Newf(kind error, format string, args ...any) *Error {
	return &Error{Err: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(message string) *Error { return New(ErrValidation, message) }
func NotFound(message string) *Error { return New(ErrNotFound, message) }
func Forbidden(message string) *Error { return New(ErrForbidden, message) }
func Conflict(message string) *Error { return New(ErrConflict, message) }
func Unauthorized(message string) *Error { return New(ErrUnauthorized, message) }
func Disabled(message string) *Error { return New(ErrFeatureDisabled, message) }

// WithDetails attaches per-field messages, typically from request validation.
func (e *Error) WithDetails(details map[string]string) *Error {
	e.Details = details
	return e
}

func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrFeatureDisabled):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrFeatureDisabled):
		return CodeFeatureDisabled
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// Message returns the text safe to show a client. Unclassified errors never
// leak their internals.
func Message(err error) string {
	if Status(err) == http.StatusInternalServerError {
		var appErr *Error
		if errors.As(err, &appErr) && errors.Is(appErr.Err, ErrInternal) && appErr.Message != "" {
			return appErr.Message
		}
		return ErrInternal.Error()
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}

func Details(err error) map[string]string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Details
	}
	return nil
}
