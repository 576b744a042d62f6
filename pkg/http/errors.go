package http

import (
	"fmt"
	"net/http"
)

// AppError is the error body returned to API callers. Status and RetryAfter
// shape the response but are not serialized.
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Status     int                    `json:"-"`
	RetryAfter int                    `json:"-"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func statusError(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// WithParam attaches a key used by clients to render the message.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = map[string]interface{}{}
	}
	e.Params[key] = value
	return e
}

// WithRetryAfter sets the Retry-After header in seconds.
func (e *AppError) WithRetryAfter(seconds int) *AppError {
	e.RetryAfter = seconds
	return e
}

func NotFoundError(message string) *AppError {
	return statusError(http.StatusNotFound, "ERR_NOT_FOUND", message)
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NotFoundError(fmt.Sprintf(format, a...))
}

func BadRequestError(message string) *AppError {
	return statusError(http.StatusBadRequest, "ERR_BAD_REQUEST", message)
}

func InternalError(message string) *AppError {
	return statusError(http.StatusInternalServerError, "ERR_INTERNAL", message)
}

// TooManyRequestsError tells the caller how many seconds to back off.
func TooManyRequestsError(message string, retryAfter int) *AppError {
	return statusError(http.StatusTooManyRequests, "ERR_RATE_LIMITED", message).WithRetryAfter(retryAfter)
}

func ServiceUnavailableError(message string) *AppError {
	return statusError(http.StatusServiceUnavailable, "ERR_UNAVAILABLE", message)
}

// DataUnavailableError reports that neither a live read nor a cached value
// could serve the request.
func DataUnavailableError(message string) *AppError {
	return statusError(http.StatusServiceUnavailable, "ERR_DATA_UNAVAILABLE", message)
}
