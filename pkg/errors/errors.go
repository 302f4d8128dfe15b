package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeStaleState        = "STALE_STATE"
	CodeNotFound          = "NOT_FOUND"
	CodeNetworkError      = "NETWORK_ERROR"
	CodeBusy              = "BUSY"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternal          = "INTERNAL_ERROR"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func InvalidInput(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func InvalidTransition(action, status string) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("action %s is not allowed while order is %s", action, status),
		Status:  http.StatusConflict,
	}
}

func StaleState(resource string) *AppError {
	return &AppError{
		Code:    CodeStaleState,
		Message: fmt.Sprintf("%s was modified by someone else, reload and retry", resource),
		Status:  http.StatusConflict,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func Network(message string, err error) *AppError {
	return &AppError{
		Code:    CodeNetworkError,
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func Busy(operation string) *AppError {
	return &AppError{
		Code:    CodeBusy,
		Message: fmt.Sprintf("another %s is already in flight", operation),
		Status:  http.StatusConflict,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the taxonomy code of err, or CodeInternal for
// errors that did not originate in this module.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}
