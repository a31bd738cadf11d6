// Package errors provides structured error types for the Stratum engine.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components. The codes double as the
// stable machine-readable codes returned on the wire by the gateway.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryMigration  ErrorCategory = "MIGRATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Wire error codes. These are the exact strings callers match against.
const (
	CodeInvalidJSON      = "INVALID_JSON"
	CodeMissingField     = "MISSING_FIELD"
	CodeValidationError  = "VALIDATION_ERROR"
	CodeNotRegistered    = "NOT_REGISTERED"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeLockTimeout      = "LOCK_TIMEOUT"
	CodeChecksumMismatch = "CHECKSUM_MISMATCH"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Internal codes not exposed on the wire directly (mapped to
// INTERNAL_ERROR or DATABASE_ERROR at the gateway boundary).
const (
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
)

// StratumError is the structured error type used throughout the system.
type StratumError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *StratumError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StratumError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *StratumError) Is(target error) bool {
	var t *StratumError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StratumError.
func New(category ErrorCategory, code, message string) *StratumError {
	return &StratumError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new StratumError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StratumError {
	return &StratumError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *StratumError) WithDetails(details map[string]interface{}) *StratumError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *StratumError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StratumError.
func GetCategory(err error) ErrorCategory {
	var se *StratumError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StratumError.
func GetCode(err error) string {
	var se *StratumError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetMessage extracts the human-readable message from an error chain,
// falling back to Error() for plain errors.
func GetMessage(err error) string {
	var se *StratumError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

// isRetryable determines if an error code is retryable. Client errors
// and tamper/conflict errors never are; transient backend and lock
// conditions may be retried by the caller.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case code == CodeLockTimeout:
		return true
	case code == CodeDatabaseError:
		return true
	case category == ErrCategoryStorage && code != CodeObjectNotFound:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(message string) *StratumError {
	return New(ErrCategoryValidation, CodeValidationError, message)
}

func NewValidationErrorf(format string, args ...interface{}) *StratumError {
	return New(ErrCategoryValidation, CodeValidationError, fmt.Sprintf(format, args...))
}

func NewMissingFieldError(field string) *StratumError {
	return New(ErrCategoryValidation, CodeMissingField, fmt.Sprintf("missing required field: %s", field))
}

func NewNotRegisteredError(namespace, table string) *StratumError {
	return New(ErrCategorySchema, CodeNotRegistered,
		fmt.Sprintf("table %s is not registered in namespace %s", table, namespace))
}

func NewDatabaseError(message string, cause error) *StratumError {
	return Wrap(ErrCategoryStorage, CodeDatabaseError, message, cause)
}

func NewLockTimeoutError(namespace string) *StratumError {
	return New(ErrCategoryMigration, CodeLockTimeout,
		fmt.Sprintf("migration lock for namespace %s is held by another operation", namespace))
}

func NewChecksumMismatchError(namespace string, version int) *StratumError {
	return New(ErrCategoryMigration, CodeChecksumMismatch,
		fmt.Sprintf("applied migration %03d in namespace %s no longer matches its recorded checksum", version, namespace))
}

func NewInternalError(message string, cause error) *StratumError {
	return Wrap(ErrCategoryInternal, CodeInternalError, message, cause)
}
