package shared

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable statuses surfaced to callers alongside HTTP codes.
const (
	StatusSent                 = "sent"
	StatusAccepted             = "accepted"
	StatusRateLimited          = "rate_limited"
	StatusBlocked              = "blocked"
	StatusInvalidCode          = "invalid_code"
	StatusExpiredCode          = "expired_code"
	StatusReusedCode           = "reused_code"
	StatusTransportUnavailable = "transport_unavailable"
	StatusStoreUnavailable     = "store_unavailable"
	StatusInternalError        = "internal_error"
)

// AppError carries an HTTP status and a caller-safe message. The wrapped
// error is logged server-side and never serialized.
type AppError struct {
	StatusCode int
	Status     string
	Message    string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func ErrRateLimited(retryAfterMinutes int) *AppError {
	return &AppError{
		StatusCode: http.StatusTooManyRequests,
		Status:     StatusRateLimited,
		Message:    fmt.Sprintf("Too many code requests. Please try again in %d minute(s).", retryAfterMinutes),
	}
}

func ErrBlocked(retryAfterMinutes int) *AppError {
	return &AppError{
		StatusCode: http.StatusTooManyRequests,
		Status:     StatusBlocked,
		Message:    fmt.Sprintf("Requests for this contact are temporarily blocked. Please try again in %d minute(s).", retryAfterMinutes),
	}
}

func ErrTransportUnavailable(err error) *AppError {
	return &AppError{
		StatusCode: http.StatusServiceUnavailable,
		Status:     StatusTransportUnavailable,
		Message:    "The code could not be delivered. Please try again later.",
		Err:        err,
	}
}

func ErrStoreUnavailable(err error) *AppError {
	return &AppError{
		StatusCode: http.StatusServiceUnavailable,
		Status:     StatusStoreUnavailable,
		Message:    "Service temporarily unavailable. Please try again later.",
		Err:        err,
	}
}

func ErrInternal(err error) *AppError {
	return &AppError{
		StatusCode: http.StatusInternalServerError,
		Status:     StatusInternalError,
		Message:    "Something went wrong. Please try again later.",
		Err:        err,
	}
}
