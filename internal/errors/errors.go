// Package errors is the error taxonomy of the chat API and its JSON
// rendering. Handlers return *AppError values; everything else becomes an
// opaque INTERNAL_ERROR on the wire.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory tells whether the caller, this server or a dependency failed.
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryServer   ErrorCategory = "server"
	CategoryExternal ErrorCategory = "external"
)

// Error codes sent to clients.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeEmailExists        = "EMAIL_EXISTS"

	CodeInternalError       = "INTERNAL_ERROR"
	CodeServerConfiguration = "SERVER_CONFIGURATION_ERROR"
	CodeUploadError         = "UPLOAD_ERROR"
)

var statusByCode = map[string]int{
	CodeValidationError:     http.StatusBadRequest,
	CodeInvalidRequest:      http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeInvalidCredentials:  http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeEmailExists:         http.StatusConflict,
	CodeInternalError:       http.StatusInternalServerError,
	CodeServerConfiguration: http.StatusInternalServerError,
	CodeUploadError:         http.StatusInternalServerError,
}

// AppError is an error with a stable code and a message safe to show users.
type AppError struct {
	Code       string
	Message    string
	Category   ErrorCategory
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause records the underlying failure for the server log.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func newError(code, message string) *AppError {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	category := CategoryServer
	switch {
	case status < 500:
		category = CategoryClient
	case code == CodeUploadError:
		category = CategoryExternal
	}

	return &AppError{Code: code, Message: message, Category: category, HTTPStatus: status}
}

func BadRequest(message string) *AppError { return newError(CodeInvalidRequest, message) }

func ValidationError(message string) *AppError { return newError(CodeValidationError, message) }

func Unauthorized(message string) *AppError { return newError(CodeUnauthorized, message) }

func Forbidden(message string) *AppError { return newError(CodeForbidden, message) }

// InvalidCredentials is the single answer for unknown emails and wrong
// passwords.
func InvalidCredentials() *AppError {
	return newError(CodeInvalidCredentials, "Invalid credentials")
}

// NotFound reports a missing resource, e.g. NotFound("User").
func NotFound(resource string) *AppError {
	return newError(CodeNotFound, resource+" not found")
}

func EmailExists() *AppError {
	return newError(CodeEmailExists, "email already registered")
}

func InternalError(message string) *AppError { return newError(CodeInternalError, message) }

// ServerConfiguration is returned while the token signing secret is unset.
func ServerConfiguration() *AppError {
	return newError(CodeServerConfiguration, "server configuration error")
}

// UploadError reports an object storage failure.
func UploadError(message string) *AppError { return newError(CodeUploadError, message) }

// IsClientError returns true if the error is a client error
func IsClientError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Category == CategoryClient
}

// IsServerError returns true for server and external failures, including
// errors that are not AppErrors.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	return appErr.Category != CategoryClient
}
