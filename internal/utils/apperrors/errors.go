// Package apperrors is the typed error vocabulary shared by the repository and
// interface layers. Domain pipeline failures have their own taxonomy; this one
// exists so handlers can map persistence and lookup failures to HTTP statuses.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeValidation    ErrorType = "VALIDATION"
	ErrorTypeConflict      ErrorType = "CONFLICT"
	ErrorTypeDatabaseError ErrorType = "DATABASE_ERROR"
	ErrorTypeExternal      ErrorType = "EXTERNAL"
	ErrorTypeInternal      ErrorType = "INTERNAL"
)

// Layer represents the application layer where the error occurred.
type Layer string

const (
	LayerRepository     Layer = "repository"
	LayerDomain         Layer = "domain"
	LayerHandler        Layer = "handler"
	LayerInfrastructure Layer = "infrastructure"
)

type requestIDKey struct{}

// WithRequestID stores the request id for error attribution.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID extracts the request id, if any.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// AppError is an error annotated with its category and origin layer.
type AppError struct {
	Type      ErrorType
	Layer     Layer
	Message   string
	Err       error
	RequestID string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s][%s] %s: %v", e.Layer, e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s][%s] %s", e.Layer, e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError creates an AppError carrying the request id from ctx.
func NewError(ctx context.Context, layer Layer, errorType ErrorType, message string, err error) *AppError {
	return &AppError{
		Type:      errorType,
		Layer:     layer,
		Message:   message,
		Err:       err,
		RequestID: RequestID(ctx),
	}
}

// IsErrorType checks whether err is an AppError of the given type.
func IsErrorType(err error, errorType ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == errorType
}

// HTTPStatus maps an error to an HTTP status code.
func HTTPStatus(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Type {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
