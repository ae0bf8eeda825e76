// Package apperror provides structured error handling for the platform.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal         = "INTERNAL_ERROR"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeAllocationConflict  = "ALLOCATION_CONFLICT"
	CodeDuplicateSubmission = "DUPLICATE_SUBMISSION"
	CodeSyncInProgress      = "SYNC_IN_PROGRESS"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (series key, local sale id, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewStoreUnavailable wraps a transient store outage (503, retryable).
func NewStoreUnavailable(err error) *AppError {
	return &AppError{
		Code:       CodeStoreUnavailable,
		Message:    "Document store is unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewAllocationConflict is returned when the compare-and-swap loop exhausts
// its retries without winning a number. Fatal per sale, never silently dropped.
func NewAllocationConflict(seriesKey string, attempts int) *AppError {
	return &AppError{
		Code:       CodeAllocationConflict,
		Message:    "Could not allocate a document number after repeated conflicts",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"series": seriesKey, "attempts": attempts},
	}
}

// NewDuplicateSubmission signals that an idempotency marker for the local sale
// id already exists. Callers treat this as success, not as a failure.
func NewDuplicateSubmission(localID string) *AppError {
	return &AppError{
		Code:       CodeDuplicateSubmission,
		Message:    "Sale was already applied in a previous sync run",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"local_id": localID},
	}
}

// NewSyncInProgress is returned when a second concurrent sync run is refused.
func NewSyncInProgress(businessID string) *AppError {
	return &AppError{
		Code:       CodeSyncInProgress,
		Message:    "A sync run is already in progress for this business",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"business_id": businessID},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsCode checks whether err carries the given error code.
func IsCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsStoreUnavailable checks if error is a transient store outage.
func IsStoreUnavailable(err error) bool {
	return IsCode(err, CodeStoreUnavailable)
}

// IsAllocationConflict checks if error is an exhausted CAS loop.
func IsAllocationConflict(err error) bool {
	return IsCode(err, CodeAllocationConflict)
}

// IsDuplicateSubmission checks if error is an already-applied idempotency marker.
func IsDuplicateSubmission(err error) bool {
	return IsCode(err, CodeDuplicateSubmission)
}

// IsValidation checks if error is a validation failure.
func IsValidation(err error) bool {
	return IsCode(err, CodeValidation)
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}
