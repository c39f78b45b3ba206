// Package errors defines the typed application errors shared by the
// repositories, services and transport handlers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// ErrorCode is the machine-readable category of an AppError.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
	ErrCodeValidation   ErrorCode = "VALIDATION"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// AppError carries a code, a caller-safe message and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// PublicMessage is the message shown to callers. Internal errors never leak
// their cause.
func (e *AppError) PublicMessage() string {
	if e.Code == ErrCodeInternal {
		return "internal error"
	}
	return e.Message
}

// New creates an AppError without a cause.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to err.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", resource, id))
}

// InvalidInput reports a malformed field.
func InvalidInput(field, message string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("%s: %s", field, message))
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidState(message string) *AppError {
	return New(ErrCodeInvalidState, message)
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternal for anything else.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsDomain reports whether err is an expected, caller-handleable outcome
// rather than an incident.
func IsDomain(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotFound, ErrCodeForbidden, ErrCodeInvalidState, ErrCodeValidation, ErrCodeUnauthorized, ErrCodeConflict:
		return true
	}
	return false
}

// Kind is the stable error kind exposed on the wire.
func Kind(err error) string {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return "NotFound"
	case ErrCodeForbidden:
		return "Forbidden"
	case ErrCodeInvalidState, ErrCodeConflict:
		return "InvalidState"
	case ErrCodeValidation:
		return "Validation"
	case ErrCodeUnauthorized:
		return "Unauthorized"
	}
	return "Internal"
}

// PublicMessage returns the caller-safe message for any error.
func PublicMessage(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.PublicMessage()
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeInvalidState, ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func GRPCCode(err error) codes.Code {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeForbidden:
		return codes.PermissionDenied
	case ErrCodeInvalidState, ErrCodeConflict:
		return codes.FailedPrecondition
	case ErrCodeValidation:
		return codes.InvalidArgument
	case ErrCodeUnauthorized:
		return codes.Unauthenticated
	}
	return codes.Internal
}
