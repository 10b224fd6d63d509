// Package errors defines the structured error taxonomy used across the
// audit, routing, and autonomy cores so callers can match on kind instead
// of parsing messages.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for HTTP mapping and caller dispatch.
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeQuotaExceeded  ErrorType = "quota_exceeded"
	ErrorTypeChainInvariant ErrorType = "chain_invariant"
	ErrorTypeDatabase       ErrorType = "database"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeInternal       ErrorType = "internal"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:     http.StatusBadRequest,
	ErrorTypeAuth:           http.StatusUnauthorized,
	ErrorTypeNotFound:       http.StatusNotFound,
	ErrorTypeConflict:       http.StatusConflict,
	ErrorTypeTimeout:        http.StatusRequestTimeout,
	ErrorTypeRateLimit:      http.StatusTooManyRequests,
	ErrorTypeQuotaExceeded:  http.StatusTooManyRequests,
	ErrorTypeChainInvariant: http.StatusInternalServerError,
	ErrorTypeDatabase:       http.StatusInternalServerError,
	ErrorTypeNetwork:        http.StatusInternalServerError,
	ErrorTypeInternal:       http.StatusInternalServerError,
}

// AppError is the structured error value used throughout the module.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodes[t],
	}
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// ---- predefined constructors ----

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeDatabase, fmt.Sprintf("database operation failed: %s", operation))
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

// NewQuotaExceededError models the {Granted, QuotaExceeded{tenant, tier, used, cap}}
// result-type variant from spec §9: a typed error the caller matches on kind,
// never an exception used for ordinary control flow.
func NewQuotaExceededError(tenantID, tier string, used, cap int) *AppError {
	err := New(ErrorTypeQuotaExceeded, fmt.Sprintf("tenant %s (%s) exceeded %d calls/hour (%d used)", tenantID, tier, cap, used))
	return err.WithDetailsf("tenant=%s tier=%s used=%d cap=%d", tenantID, tier, used, cap)
}

// NewChainInvariantError marks a hash-chain violation. Per spec §7 these
// never self-repair; they must surface in verification records and metrics.
func NewChainInvariantError(message string) *AppError {
	return New(ErrorTypeChainInvariant, message)
}

// ---- type inspection ----

func IsType(err error, t ErrorType) bool {
	ae, ok := err.(*AppError)
	if !ok {
		return false
	}
	return ae.Type == t
}

func GetType(err error) ErrorType {
	ae, ok := err.(*AppError)
	if !ok {
		return ErrorTypeInternal
	}
	return ae.Type
}

func GetStatusCode(err error) int {
	ae, ok := err.(*AppError)
	if !ok {
		return http.StatusInternalServerError
	}
	return ae.StatusCode
}

// ErrorMessages holds the safe, externally visible strings for error types
// whose underlying Message may contain internal detail.
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified by another request",
}

// SafeErrorMessage returns a message safe to return to external callers,
// never including token material, query fragments, or storage internals
// per spec §7's auth-failure policy.
func SafeErrorMessage(err error) string {
	ae, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch ae.Type {
	case ErrorTypeValidation:
		return ae.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit, ErrorTypeQuotaExceeded:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}
