package errors

import (
	"fmt"
	"net/http"

	perrors "github.com/ahwlsqja/permission-client/pkg/errors"
)

// Error codes
const (
	// 4xx Client Errors
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeForbidden    = "FORBIDDEN"

	// 5xx Server Errors
	CodeInternal   = "INTERNAL_ERROR"
	CodeDBError    = "DB_ERROR"
	CodeCacheError = "CACHE_ERROR"
	CodeChainError = "CHAIN_ERROR"
	CodeUpstream   = "UPSTREAM_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
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

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// Error constructors

func InvalidInput(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidInput,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func TooLarge(limit int64) *AppError {
	return &AppError{
		Code:       CodeTooLarge,
		Message:    fmt.Sprintf("Request body exceeds %d bytes", limit),
		StatusCode: http.StatusRequestEntityTooLarge,
		Details: map[string]any{
			"limit": limit,
		},
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func DBError(err error) *AppError {
	return &AppError{
		Code:       CodeDBError,
		Message:    "Database error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

func CacheError(err error) *AppError {
	return &AppError{
		Code:       CodeCacheError,
		Message:    "Cache error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

func ChainError(message string) *AppError {
	return &AppError{
		Code:       CodeChainError,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

func Upstream(message string) *AppError {
	return &AppError{
		Code:       CodeUpstream,
		Message:    message,
		StatusCode: http.StatusBadGateway,
	}
}

// FromProtocol maps a protocol client error onto an HTTP error. The
// protocol kind is kept in Details.
func FromProtocol(err error) *AppError {
	pe, ok := perrors.As(err)
	if !ok {
		return Internal("Internal server error").WithError(err)
	}

	var appErr *AppError
	switch pe.Kind {
	case perrors.KindInvalidConfiguration:
		appErr = InvalidInput(pe.Message)
	case perrors.KindUserRejected:
		appErr = Forbidden(pe.Message)
	case perrors.KindPermission:
		appErr = NotFound("permission")
		appErr.Message = pe.Message
	case perrors.KindNonce:
		appErr = Conflict(pe.Message)
	case perrors.KindBlockchain:
		appErr = ChainError(pe.Message)
	case perrors.KindRelayer, perrors.KindNetwork:
		appErr = Upstream(pe.Message)
	default:
		appErr = Internal(pe.Message)
	}
	return appErr.WithDetails(map[string]any{"kind": string(pe.Kind)}).WithError(err)
}
