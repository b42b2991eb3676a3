// Package errhandling provides error types and classification for the
// cleaning step. Classification drives the error code and category reported
// in execution results; the step itself never retries.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"

	"github.com/canectors/basic-cleaning/internal/dataset"
)

// ErrorCategory represents the type/category of an error.
type ErrorCategory string

// Error categories for classification.
const (
	// CategorySchema represents a dataset that lacks a required column.
	CategorySchema ErrorCategory = "schema"

	// CategoryParse represents malformed tabular input.
	CategoryParse ErrorCategory = "parse"

	// CategoryIO represents local stream or file failures.
	CategoryIO ErrorCategory = "io"

	// CategoryNetwork represents network-related errors (timeout, connection refused, DNS).
	CategoryNetwork ErrorCategory = "network"

	// CategoryAuthentication represents authentication errors (401, 403).
	CategoryAuthentication ErrorCategory = "authentication"

	// CategoryValidation represents validation errors (400, 422).
	CategoryValidation ErrorCategory = "validation"

	// CategoryRateLimit represents rate limiting errors (429).
	CategoryRateLimit ErrorCategory = "rate_limit"

	// CategoryServer represents server errors (5xx).
	CategoryServer ErrorCategory = "server"

	// CategoryNotFound represents not found errors (404, unknown artifact).
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryUnknown represents unclassified errors.
	CategoryUnknown ErrorCategory = "unknown"
)

// ClassifiedError wraps an error with classification metadata.
type ClassifiedError struct {
	// Category is the error classification category.
	Category ErrorCategory

	// Retryable indicates whether the failure is transient. It is reported,
	// not acted upon.
	Retryable bool

	// StatusCode is the HTTP status code (0 if not an HTTP error).
	StatusCode int

	// Message is a human-readable error message.
	Message string

	// OriginalErr is the underlying error that was classified.
	OriginalErr error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// Unwrap returns the original error for use with errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.OriginalErr
}

// ClassifyHTTPStatus classifies an HTTP error based on status code.
//
// Classification rules:
//   - 401, 403: Authentication errors (not retryable)
//   - 400, 422 and other 4xx: Validation errors (not retryable)
//   - 404: Not found errors (not retryable)
//   - 429: Rate limit errors (retryable)
//   - 5xx: Server errors (retryable)
//   - Anything else: CategoryUnknown
func ClassifyHTTPStatus(statusCode int, message string) *ClassifiedError {
	ce := &ClassifiedError{StatusCode: statusCode, Message: message}
	switch {
	case statusCode == 401:
		ce.Category = CategoryAuthentication
		ce.Message = fallback(message, "unauthorized")
	case statusCode == 403:
		ce.Category = CategoryAuthentication
		ce.Message = fallback(message, "forbidden")
	case statusCode == 404:
		ce.Category = CategoryNotFound
		ce.Message = fallback(message, "not found")
	case statusCode == 429:
		ce.Category = CategoryRateLimit
		ce.Retryable = true
		ce.Message = fallback(message, "rate limited")
	case statusCode >= 500:
		ce.Category = CategoryServer
		ce.Retryable = true
		ce.Message = fallback(message, "server error")
	case statusCode >= 400:
		ce.Category = CategoryValidation
		ce.Message = fallback(message, "client error")
	default:
		ce.Category = CategoryUnknown
		ce.Retryable = true
	}
	return ce
}

func fallback(message, def string) string {
	if message != "" {
		return message
	}
	return def
}

// ClassifyError classifies any error into a ClassifiedError.
// Already classified errors are returned as-is.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{
			Category:  CategoryUnknown,
			Retryable: false,
			Message:   "nil error",
		}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case dataset.IsSchemaError(err):
		return &ClassifiedError{Category: CategorySchema, Message: err.Error(), OriginalErr: err}
	case dataset.IsParseError(err):
		return &ClassifiedError{Category: CategoryParse, Message: err.Error(), OriginalErr: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ClassifiedError{Category: CategoryNetwork, Retryable: true, Message: "request timeout", OriginalErr: err}
	case errors.Is(err, context.Canceled):
		return &ClassifiedError{Category: CategoryNetwork, Message: "context canceled", OriginalErr: err}
	}

	var urlErr *url.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return &ClassifiedError{Category: CategoryNetwork, Retryable: true, Message: err.Error(), OriginalErr: err}
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		if errors.Is(err, fs.ErrNotExist) {
			return &ClassifiedError{Category: CategoryNotFound, Message: err.Error(), OriginalErr: err}
		}
		return &ClassifiedError{Category: CategoryIO, Message: err.Error(), OriginalErr: err}
	}

	return &ClassifiedError{
		Category:    CategoryUnknown,
		Retryable:   false,
		Message:     err.Error(),
		OriginalErr: err,
	}
}

// IsFatal returns true if the error can never succeed on a re-run with the
// same inputs: schema, parse, authentication, validation and not-found errors.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	switch ClassifyError(err).Category {
	case CategorySchema, CategoryParse, CategoryAuthentication, CategoryValidation, CategoryNotFound:
		return true
	default:
		return false
	}
}

// GetErrorCategory returns the error category for a given error.
// Returns CategoryUnknown for nil errors.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	return ClassifyError(err).Category
}

// NewIOError creates a ClassifiedError for stream or file failures.
func NewIOError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryIO,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewNotFoundError creates a ClassifiedError for not found errors.
func NewNotFoundError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryNotFound,
		Retryable:   false,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewValidationError creates a ClassifiedError for validation errors.
func NewValidationError(statusCode int, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryValidation,
		Retryable:   false,
		StatusCode:  statusCode,
		Message:     message,
		OriginalErr: originalErr,
	}
}
