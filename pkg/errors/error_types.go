package errors

import (
	"fmt"
	"net/http"
)

// ErrorType represents the type of error that occurred.
type ErrorType int

// Error types.
const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeNetwork
	ErrorTypeNotFound
	ErrorTypeAuth
	ErrorTypeValidation
	ErrorTypeOperation
	ErrorTypeTimeout
	ErrorTypeResourceBusy
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeNetwork:
		return "NetworkError"
	case ErrorTypeNotFound:
		return "NotFoundError"
	case ErrorTypeAuth:
		return "AuthError"
	case ErrorTypeValidation:
		return "ValidationError"
	case ErrorTypeOperation:
		return "OperationError"
	case ErrorTypeTimeout:
		return "TimeoutError"
	case ErrorTypeResourceBusy:
		return "ResourceBusyError"
	default:
		return "UnknownError"
	}
}

// TypedError is an error with a specific type and an HTTP status code that
// would have produced it, so RetryPolicy can classify transport failures
// without re-inspecting raw status codes at every call site.
type TypedError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Err        error
}

// Error returns the error message.
func (e *TypedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *TypedError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error (no HTTP response at all:
// DNS failure, connection refused, timeout before a response arrived).
func NewNetworkError(message string, err error) error {
	return &TypedError{Type: ErrorTypeNetwork, Message: message, StatusCode: http.StatusServiceUnavailable, Err: err}
}

// NewNotFoundError creates a new not found error (HTTP 404).
func NewNotFoundError(message string, err error) error {
	return &TypedError{Type: ErrorTypeNotFound, Message: message, StatusCode: http.StatusNotFound, Err: err}
}

// NewAuthError creates a new authentication error (HTTP 401/403).
func NewAuthError(message string, err error) error {
	return &TypedError{Type: ErrorTypeAuth, Message: message, StatusCode: http.StatusUnauthorized, Err: err}
}

// NewValidationError creates a new validation error (HTTP 400, or a
// client-side precondition failure with no HTTP round trip at all).
func NewValidationError(message string, err error) error {
	return &TypedError{Type: ErrorTypeValidation, Message: message, StatusCode: http.StatusBadRequest, Err: err}
}

// NewOperationError creates a new operation error (HTTP 5xx).
func NewOperationError(message string, err error) error {
	return &TypedError{Type: ErrorTypeOperation, Message: message, StatusCode: http.StatusInternalServerError, Err: err}
}

// NewTimeoutError creates a new timeout error (HTTP 408).
func NewTimeoutError(message string, err error) error {
	return &TypedError{Type: ErrorTypeTimeout, Message: message, StatusCode: http.StatusRequestTimeout, Err: err}
}

// NewResourceBusyError creates a new resource-busy error (HTTP 425/429).
func NewResourceBusyError(message string, err error) error {
	return &TypedError{Type: ErrorTypeResourceBusy, Message: message, StatusCode: http.StatusTooManyRequests, Err: err}
}

// NewErrorForStatusCode maps an HTTP status code to the TypedError RetryPolicy
// would expect, for wrapping transport responses without a dedicated
// constructor call at every status branch.
func NewErrorForStatusCode(statusCode int, message string, err error) error {
	switch {
	case statusCode == http.StatusRequestTimeout:
		return NewTimeoutError(message, err)
	case statusCode == http.StatusTooManyRequests || statusCode == 425:
		return NewResourceBusyError(message, err)
	case statusCode >= 500 && statusCode < 600:
		return NewOperationError(message, err)
	case statusCode == http.StatusNotFound:
		return NewNotFoundError(message, err)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthError(message, err)
	default:
		return &TypedError{Type: ErrorTypeValidation, Message: message, StatusCode: statusCode, Err: err}
	}
}

// IsNetworkError reports whether err is a network error.
func IsNetworkError(err error) bool {
	var typedErr *TypedError
	return As(err, &typedErr) && typedErr.Type == ErrorTypeNetwork
}

// IsNotFoundError reports whether err is a not-found error.
func IsNotFoundError(err error) bool {
	var typedErr *TypedError
	return As(err, &typedErr) && typedErr.Type == ErrorTypeNotFound
}

// IsAuthError reports whether err is an authentication error.
func IsAuthError(err error) bool {
	var typedErr *TypedError
	return As(err, &typedErr) && typedErr.Type == ErrorTypeAuth
}

// IsValidationError reports whether err is a validation error.
func IsValidationError(err error) bool {
	var typedErr *TypedError
	return As(err, &typedErr) && typedErr.Type == ErrorTypeValidation
}

// IsOperationError reports whether err is an operation (5xx) error.
func IsOperationError(err error) bool {
	var typedErr *TypedError
	return As(err, &typedErr) && typedErr.Type == ErrorTypeOperation
}

// IsTimeoutError reports whether err is a timeout error.
func IsTimeoutError(err error) bool {
	var typedErr *TypedError
	return As(err, &typedErr) && typedErr.Type == ErrorTypeTimeout
}

// IsResourceBusyError reports whether err is a resource-busy (rate limit) error.
func IsResourceBusyError(err error) bool {
	var typedErr *TypedError
	return As(err, &typedErr) && typedErr.Type == ErrorTypeResourceBusy
}

// StatusCode extracts the HTTP status code carried by a TypedError, if any.
// ok is false when err does not wrap a TypedError (e.g. a plain error from
// New) or the TypedError carries no status code. Network errors carry 503.
func StatusCode(err error) (code int, ok bool) {
	var typedErr *TypedError
	if !As(err, &typedErr) || typedErr.StatusCode == 0 {
		return 0, false
	}
	return typedErr.StatusCode, true
}
