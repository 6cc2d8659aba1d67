package models

import (
	"errors"
	"fmt"
)

// Error codes surfaced to the presenter.
const (
	CodeTransportUnavailable = "TRANSPORT_UNAVAILABLE"
	CodeFetchFailed          = "FETCH_FAILED"
	CodeSendFailed           = "SEND_FAILED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeValidation           = "VALIDATION_ERROR"
)

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
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

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewTransportError(err error) *AppError {
	return &AppError{
		Code:    CodeTransportUnavailable,
		Message: "Reconnecting to chat server",
		Err:     err,
	}
}

func NewFetchError(what string, err error) *AppError {
	return &AppError{
		Code:    CodeFetchFailed,
		Message: fmt.Sprintf("Failed to load %s", what),
		Err:     err,
	}
}

func NewSendError(reason string, err error) *AppError {
	if reason == "" {
		reason = "Failed to send message"
	}
	return &AppError{
		Code:    CodeSendFailed,
		Message: reason,
		Err:     err,
	}
}

// ErrorCode returns the AppError code carried by err, or "" when err is not one.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
