package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable error code rendered in the envelope.
type Kind string

const (
	KindBadRequest     Kind = "BAD_REQUEST"
	KindAuthentication Kind = "AUTHENTICATION_ERROR"
	KindAuthorization  Kind = "AUTHORIZATION_ERROR"
	KindNotFound       Kind = "NOT_FOUND"
	KindValidation     Kind = "VALIDATION_ERROR"
	KindRateLimit      Kind = "RATE_LIMIT_EXCEEDED"
	KindServer         Kind = "SERVER_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Kind    Kind
	Message string
	Status  int
	Details any
	// RetryAfter is only meaningful for KindRateLimit, in seconds.
	RetryAfter int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(kind Kind, msg string, cause error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: msg,
		Status:  StatusOf(kind),
		Cause:   cause,
	}
}

// WithDetails returns a copy of e carrying details for the envelope.
func (e *AppError) WithDetails(details any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func BadRequest(msg string) *AppError {
	return New(KindBadRequest, msg, nil)
}

func Authentication(msg string) *AppError {
	return New(KindAuthentication, msg, nil)
}

func Authorization(msg string) *AppError {
	return New(KindAuthorization, msg, nil)
}

func NotFound(msg string) *AppError {
	return New(KindNotFound, msg, nil)
}

func Validation(msg string, details any) *AppError {
	return New(KindValidation, msg, nil).WithDetails(details)
}

func RateLimit(msg string, retryAfter int) *AppError {
	e := New(KindRateLimit, msg, nil)
	e.RetryAfter = retryAfter
	e.Details = map[string]int{"retry_after": retryAfter}
	return e
}

func Server(msg string, cause error) *AppError {
	return New(KindServer, msg, cause)
}

// As extracts an *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Wrap returns err as an *AppError. Anything unclassified becomes a generic
// Server error whose message never carries the underlying detail.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Server("Internal server error", err)
}

// StatusOf maps a kind to its fixed HTTP status.
func StatusOf(k Kind) int {
	switch k {
	case KindBadRequest, KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
