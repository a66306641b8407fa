// Package errors defines the application error taxonomy shared by services and HTTP handlers.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an AppError. The HTTP layer maps each code to a status.
type ErrorCode string

const (
	ErrCodeNotFound   ErrorCode = "not_found"
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeConflict means the resource changed state underneath the caller.
	ErrCodeConflict   ErrorCode = "conflict"
	ErrCodeForeignKey ErrorCode = "foreign_key"
	// ErrCodeRateLimited means a student exceeded the submission budget.
	ErrCodeRateLimited ErrorCode = "rate_limited"
	ErrCodeTimeout     ErrorCode = "timeout"
	ErrCodeCanceled    ErrorCode = "canceled"
	ErrCodeInternal    ErrorCode = "internal"
)

// AppError carries a code and a client-safe message. Cause is kept for logs and errors.Is.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Field names the offending input for validation errors.
	Field string
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *AppError) Unwrap() error { return e.Cause }

// New returns an AppError with the given code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NotFound reports a missing student, case, appointment or job.
func NotFound(message string) *AppError { return New(ErrCodeNotFound, message) }

// Conflictf reports a state transition that no longer applies.
func Conflictf(format string, args ...any) *AppError {
	return New(ErrCodeConflict, fmt.Sprintf(format, args...))
}

// Validation reports bad input not tied to one field.
func Validation(message string) *AppError { return New(ErrCodeValidation, message) }

// ValidationField reports bad input in the named request field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// RateLimited reports a rejected submission.
func RateLimited(message string) *AppError { return New(ErrCodeRateLimited, message) }

// Wrap attaches code and message to err. It returns nil for a nil err.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// FieldOf returns the Field of the first AppError in err's chain, or "".
func FieldOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

func IsNotFound(err error) bool    { return CodeOf(err) == ErrCodeNotFound }
func IsConflict(err error) bool    { return CodeOf(err) == ErrCodeConflict }
func IsValidation(err error) bool  { return CodeOf(err) == ErrCodeValidation }
func IsRateLimited(err error) bool { return CodeOf(err) == ErrCodeRateLimited }
