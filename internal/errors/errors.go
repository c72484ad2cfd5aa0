// Package errors classifies failures so the API can map them to a status
// code and a client-safe message.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory groups errors by how they are reported
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound is a lookup that exhausted the store and the explorer
	CategoryNotFound  ErrorCategory = "not_found"
	CategoryProvider  ErrorCategory = "provider"
	CategoryDatabase  ErrorCategory = "database"
	CategoryCache     ErrorCategory = "cache"
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategorySystem is everything else
	CategorySystem ErrorCategory = "system"
)

// Client-facing messages
const (
	MessageNotFound      = "transaction not found"
	MessageInternal      = "Something went wrong, please try again"
	MessageDateRangePair = "startDate and endDate must be provided together"
	MessageRateLimited   = "rate limit exceeded, please try again later"
)

// Error codes carried in CategorizedError.Code
const (
	CodeNotFound         = "TRANSACTION_NOT_FOUND"
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeInternal         = "INTERNAL_ERROR"
	CodeDatabase         = "DATABASE_ERROR"
	CodeCache            = "CACHE_ERROR"
	CodeProvider         = "PROVIDER_ERROR"
)

// CategorizedError is an error tagged with its category and HTTP status
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Cause      error
}

func newError(category ErrorCategory, status int, code, message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Cause:      cause,
	}
}

// With returns e with key added to its details
func (e *CategorizedError) With(key string, value any) *CategorizedError {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

func (e *CategorizedError) Error() string {
	if e.Cause == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
}

func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Is compares by code so a detailed not-found still matches ErrTransactionNotFound
func (e *CategorizedError) Is(target error) bool {
	t, ok := target.(*CategorizedError)
	return ok && e.Code == t.Code
}

// ErrTransactionNotFound is the sentinel for an exhausted lookup
var ErrTransactionNotFound = newError(CategoryNotFound, http.StatusNotFound, CodeNotFound, MessageNotFound, nil)

// NewTransactionNotFoundError returns a not-found error carrying lookup details
func NewTransactionNotFoundError(details map[string]any) *CategorizedError {
	err := newError(CategoryNotFound, http.StatusNotFound, CodeNotFound, MessageNotFound, nil)
	err.Details = details
	return err
}

// NewInvalidParameterError reports a malformed query parameter
func NewInvalidParameterError(param, reason string) *CategorizedError {
	msg := fmt.Sprintf("invalid parameter '%s': %s", param, reason)
	return newError(CategoryValidation, http.StatusBadRequest, CodeInvalidParameter, msg, nil).
		With("parameter", param).
		With("reason", reason)
}

// NewDateRangePairError reports a request with only one of startDate/endDate
func NewDateRangePairError() *CategorizedError {
	return newError(CategoryValidation, http.StatusBadRequest, CodeInvalidParameter, MessageDateRangePair, nil)
}

func NewRateLimitError() *CategorizedError {
	return newError(CategoryRateLimit, http.StatusTooManyRequests, CodeRateLimited, MessageRateLimited, nil)
}

func NewInternalError(message string, cause error) *CategorizedError {
	return newError(CategorySystem, http.StatusInternalServerError, CodeInternal, message, cause)
}

// NewDatabaseError wraps a repository failure during operation
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return newError(CategoryDatabase, http.StatusInternalServerError, CodeDatabase,
		"database error during "+operation, cause).With("operation", operation)
}

// NewCacheError wraps a Redis failure during operation
func NewCacheError(operation string, cause error) *CategorizedError {
	return newError(CategoryCache, http.StatusInternalServerError, CodeCache,
		"cache error during "+operation, cause).With("operation", operation)
}

// NewProviderError wraps a price feed or explorer failure
func NewProviderError(provider string, cause error) *CategorizedError {
	return newError(CategoryProvider, http.StatusBadGateway, CodeProvider,
		"data provider error: "+provider, cause).With("provider", provider)
}

// Categorize finds the CategorizedError in err's chain. Anything else is
// reported as an internal error.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}
	return NewInternalError("unexpected error", err)
}

func IsNotFound(err error) bool {
	return err != nil && Categorize(err).Category == CategoryNotFound
}

func IsValidation(err error) bool {
	return err != nil && Categorize(err).Category == CategoryValidation
}

// GetHTTPStatusCode returns the status for err; nil maps to 500 as well
func GetHTTPStatusCode(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	return Categorize(err).StatusCode
}

// ClientMessage returns what a client may see for err. Only validation,
// rate limit and not-found errors expose their own text.
func ClientMessage(err error) string {
	if err == nil {
		return MessageInternal
	}
	switch catErr := Categorize(err); catErr.Category {
	case CategoryValidation, CategoryRateLimit:
		return catErr.Message
	case CategoryNotFound:
		return MessageNotFound
	default:
		return MessageInternal
	}
}
