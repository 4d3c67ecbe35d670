// Package errors defines the API error taxonomy shared by all handlers.
//
// Rejections carry a stable string code consumed by the registration and
// product routes; suspicion events and risk indicators are advisory only and
// never surface here.
package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Error codes surfaced to API consumers
const (
	CodeTrialAbuseBlocked   = "TRIAL_ABUSE_BLOCKED"
	CodeIPLimitExceeded     = "IP_LIMIT_EXCEEDED"
	CodeDeviceLimitExceeded = "DEVICE_LIMIT_EXCEEDED"
	CodeDuplicateTrial      = "DUPLICATE_TRIAL"
	CodeTrialNotFound       = "TRIAL_NOT_FOUND"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeInternalServer      = "INTERNAL_SERVER_ERROR"
)

// APIError represents a structured API error response.
// The JSON shape {error, message, code} is what calling layers surface
// to clients, with StatusCode as the HTTP status.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorText  string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, code, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorText:  http.StatusText(statusCode),
		Message:    message,
		Code:       code,
	}
}

// Predefined error responses for common scenarios
var (
	ErrInvalidRequest    = New(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format")
	ErrTrialNotFound     = New(http.StatusNotFound, CodeTrialNotFound, "Trial not found")
	ErrDuplicateTrial    = New(http.StatusConflict, CodeDuplicateTrial, "A trial already exists for this user and product")
	ErrRateLimitExceeded = New(http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded")
	ErrInternalServer    = New(http.StatusInternalServerError, CodeInternalServer, "Internal server error")
)

// Blocked creates a terminal 403 rejection with the stored blocklist reason
func Blocked(reason string) *APIError {
	return New(http.StatusForbidden, CodeTrialAbuseBlocked, reason)
}

// ThresholdExceeded creates a 403 rejection for an IP or device overage
func ThresholdExceeded(code, message string) *APIError {
	return New(http.StatusForbidden, code, message)
}

// InvalidRequestWithError creates an invalid request error carrying detail
func InvalidRequestWithError(err error) *APIError {
	return New(http.StatusBadRequest, CodeInvalidRequest, err.Error())
}

// ValidationFailed creates a validation error for a specific field
func ValidationFailed(field, message string) *APIError {
	return New(http.StatusBadRequest, CodeValidationFailed, fmt.Sprintf("%s: %s", field, message))
}
