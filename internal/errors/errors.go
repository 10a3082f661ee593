package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a PHASe error code.
type ErrorCode string

const (
	ErrInvalidCalibration    ErrorCode = "INVALID_CALIBRATION"    // 400
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"        // 400
	ErrNotFound              ErrorCode = "NOT_FOUND"              // 404
	ErrFileNotFound          ErrorCode = "FILE_NOT_FOUND"         // 404
	ErrIncompleteCalibration ErrorCode = "INCOMPLETE_CALIBRATION" // 409
	ErrCorruptWorkspace      ErrorCode = "CORRUPT_WORKSPACE"      // 422
	ErrDegenerateAngle       ErrorCode = "DEGENERATE_ANGLE"       // 500 (internal consistency)
	ErrInternal              ErrorCode = "INTERNAL"               // 500
)

// PhaseError represents a structured error with code, status, and details.
type PhaseError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *PhaseError) Unwrap() error {
	return e.cause
}

// NewInvalidCalibration creates a 400 error for a rejected calibration parameter.
func NewInvalidCalibration(field, msg string) *PhaseError {
	return &PhaseError{
		Code:    ErrInvalidCalibration,
		Status:  400,
		Message: fmt.Sprintf("%s: %s", field, msg),
		Details: map[string]any{"field": field},
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *PhaseError {
	return &PhaseError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a stale particle reference.
func NewNotFound(id string) *PhaseError {
	return &PhaseError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("particle not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewRecoveryNotFound creates a 404 error when a workspace has no recovery slot.
func NewRecoveryNotFound(key string) *PhaseError {
	return &PhaseError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("no recovery slot for: %s", key),
		Details: map[string]any{"workspace_key": key},
	}
}

// NewFileNotFound creates a 404 error when a file does not exist.
func NewFileNotFound(path string) *PhaseError {
	return &PhaseError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewIncompleteCalibration creates a 409 error for operations that need
// ceiling, floor and capillary height to be set first.
func NewIncompleteCalibration(missing []string) *PhaseError {
	return &PhaseError{
		Code:    ErrIncompleteCalibration,
		Status:  409,
		Message: fmt.Sprintf("calibration incomplete, missing: %v", missing),
		Details: map[string]any{"missing": missing},
	}
}

// NewCorruptWorkspace creates a 422 error for structural failures while loading.
func NewCorruptWorkspace(msg string) *PhaseError {
	return &PhaseError{
		Code:    ErrCorruptWorkspace,
		Status:  422,
		Message: msg,
	}
}

// WrapCorruptWorkspace is NewCorruptWorkspace keeping the decoder error as cause.
func WrapCorruptWorkspace(msg string, cause error) *PhaseError {
	e := NewCorruptWorkspace(fmt.Sprintf("%s: %v", msg, cause))
	e.cause = cause
	return e
}

// NewDegenerateAngle creates a 500 error when cos(angle) is too close to zero.
func NewDegenerateAngle(degrees float64) *PhaseError {
	return &PhaseError{
		Code:    ErrDegenerateAngle,
		Status:  500,
		Message: fmt.Sprintf("tilt angle %.6g° makes the correction undefined", degrees),
		Details: map[string]any{"tilt_angle_degrees": degrees},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *PhaseError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &PhaseError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a PhaseError with the given code.
func Is(err error, code ErrorCode) bool {
	var pErr *PhaseError
	if stderrors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}

// As extracts the PhaseError from err, if there is one.
func As(err error) (*PhaseError, bool) {
	var pErr *PhaseError
	if stderrors.As(err, &pErr) {
		return pErr, true
	}
	return nil, false
}
