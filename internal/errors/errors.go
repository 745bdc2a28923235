// Package errors provides the application error types and HTTP error
// envelopes shared by the CLI and the status server.
//
// CLI commands wrap failures in AppError so exit-code mapping and log
// output stay consistent. The status server renders every error as an
// HTTPErrorResponse envelope with a machine-readable code.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes used in HTTP envelopes and structured logs.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_UNAVAILABLE"
	CodeValidation         = "VALIDATION_ERROR"
)

// AppError carries an error code and HTTP status alongside the message.
type AppError struct {
	// Code is a stable machine-readable error code.
	Code string

	// Message is a human-readable description.
	Message string

	// Status is the HTTP status to use when rendered by the server.
	Status int

	// Err is the wrapped cause, if any.
	Err error

	// Details holds additional context rendered into envelopes.
	Details map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewExternalServiceError builds an error for an upstream dependency
// that cannot be reached or is misbehaving.
func NewExternalServiceError(message string) error {
	return &AppError{
		Code:    CodeExternalService,
		Message: message,
		Status:  http.StatusBadGateway,
	}
}

// WrapInternal wraps err as an internal error. The context is accepted
// so future call sites can attach correlation metadata without changing
// signatures.
func WrapInternal(_ context.Context, err error, message string) error {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// NewServiceUnavailable builds a 503 error with optional detail context,
// used by health probes to report failing checks.
func NewServiceUnavailable(message string, details map[string]interface{}) error {
	return &AppError{
		Code:    CodeServiceUnavailable,
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Details: details,
	}
}

// HTTPErrorResponse is the JSON envelope for all server error responses.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// HTTPErrorDetail is the inner error payload.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// RespondWithError renders err as an HTTP error envelope.
//
// AppError values keep their code and status; anything else becomes an
// INTERNAL_ERROR with a 500 status.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := CodeInternal
	message := "internal server error"
	status := http.StatusInternalServerError
	var details map[string]interface{}

	var appErr *AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
		if appErr.Status != 0 {
			status = appErr.Status
		}
		details = appErr.Details
	} else if err != nil {
		message = err.Error()
	}

	WriteError(w, status, code, message, details)
}

// WriteError writes an HTTPErrorResponse with the given status and code.
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// NotFoundHandler responds with a NOT_FOUND envelope. Registered as the
// router's fallback so unknown routes return structured errors.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("route not found: %s %s", r.Method, r.URL.Path), nil)
}

// MethodNotAllowedHandler responds with a METHOD_NOT_ALLOWED envelope.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, fmt.Sprintf("method %s not allowed for %s", r.Method, r.URL.Path), nil)
}
