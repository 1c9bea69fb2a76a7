package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeInternal               = "INTERNAL_ERROR"
	ErrCodeBadRequest             = "BAD_REQUEST"
	ErrCodeSessionClosed          = "SESSION_CLOSED"
	ErrCodeConcurrentModification = "CONCURRENT_MODIFICATION"
)

// Sentinel errors shared by the scheduler, the repositories and the service layer.
// Check them with errors.Is.
var (
	ErrInvalidQuality         = stderrors.New("quality must be an integer between 0 and 5")
	ErrInvalidDuration        = stderrors.New("time taken must not be negative")
	ErrRequired               = stderrors.New("value is required")
	ErrCardNotFound           = stderrors.New("card not found")
	ErrDeckNotFound           = stderrors.New("deck not found")
	ErrSessionNotFound        = stderrors.New("session not found")
	ErrSessionClosed          = stderrors.New("session closed")
	ErrConcurrentModification = stderrors.New("concurrent modification: retries exhausted")

	// ErrVersionConflict is returned by a repository when a conditional commit lost the race.
	// The scheduler retries on it and never lets it escape.
	ErrVersionConflict = stderrors.New("schedule version conflict")
)

// FieldError ties a validation failure to the request field at fault.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// NewFieldError wraps err (usually a sentinel) with the offending field name.
func NewFieldError(field string, err error) *FieldError {
	return &FieldError{Field: field, Err: err}
}

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	Code    string // Error code (e.g., "NOT_FOUND", "VALIDATION_ERROR")
	Message string // Human-readable error message
	Status  int    // HTTP status code
	Err     error  // Wrapped underlying error (optional)
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error wrapping support
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new NOT_FOUND error
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %v", resource, id),
		Status:  http.StatusNotFound,
	}
}

// NewValidationError creates a new VALIDATION_ERROR
func NewValidationError(field string, reason string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf("validation failed for %s: %s", field, reason),
		Status:  http.StatusBadRequest,
	}
}

// NewInternalError creates a new INTERNAL_ERROR
func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// NewBadRequestError creates a new BAD_REQUEST error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// NewSessionClosedError reports a review or close against an ended session.
func NewSessionClosedError(id interface{}) *AppError {
	return &AppError{
		Code:    ErrCodeSessionClosed,
		Message: fmt.Sprintf("session already ended: %v", id),
		Status:  http.StatusConflict,
		Err:     ErrSessionClosed,
	}
}

// NewConcurrentModificationError asks the caller to try again.
func NewConcurrentModificationError(err error) *AppError {
	return &AppError{
		Code:    ErrCodeConcurrentModification,
		Message: "card was modified concurrently, try again",
		Status:  http.StatusConflict,
		Err:     err,
	}
}

// FromError maps scheduler sentinels onto AppErrors. An *AppError passes through unchanged;
// anything unknown becomes INTERNAL_ERROR. Not-found and conflict messages reuse the wrapped
// error text, which carries the offending identifier.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var fieldErr *FieldError
	switch {
	case stderrors.As(err, &fieldErr):
		v := NewValidationError(fieldErr.Field, fieldErr.Err.Error())
		v.Err = err
		return v
	case stderrors.Is(err, ErrInvalidQuality):
		return NewValidationError("quality", ErrInvalidQuality.Error())
	case stderrors.Is(err, ErrInvalidDuration):
		return NewValidationError("time_taken_ms", ErrInvalidDuration.Error())
	case stderrors.Is(err, ErrCardNotFound),
		stderrors.Is(err, ErrDeckNotFound),
		stderrors.Is(err, ErrSessionNotFound):
		return &AppError{Code: ErrCodeNotFound, Message: err.Error(), Status: http.StatusNotFound, Err: err}
	case stderrors.Is(err, ErrSessionClosed):
		return &AppError{Code: ErrCodeSessionClosed, Message: err.Error(), Status: http.StatusConflict, Err: err}
	case stderrors.Is(err, ErrConcurrentModification):
		return NewConcurrentModificationError(err)
	}
	return NewInternalError(err)
}

// Is and As re-export the standard helpers so callers importing this package under the
// name "errors" keep them at hand.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// New re-exports errors.New.
func New(text string) error { return stderrors.New(text) }
