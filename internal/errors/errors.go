// Package errors provides the structured error taxonomy used across the
// calendar store, provider adapters and the privacy sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// AppError is a coded application error. Errors with the same Code match
// each other under errors.Is.
type AppError struct {
	// Code identifies the error kind (e.g., "VAL_001").
	Code string

	// Message is a brief description of the error.
	Message string

	// Suggestion tells the operator what to change, if anything.
	Suggestion string

	// Cause is the underlying error (optional).
	Cause error
}

func (e *AppError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)

	if e.Code != "" {
		sb.WriteString(" (code: ")
		sb.WriteString(e.Code)
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches by code when both errors carry one, otherwise by message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if e.Code != "" && t.Code != "" {
		return e.Code == t.Code
	}
	return e.Message == t.Message
}

// --- Sentinel Errors ---

var (
	// ErrValidation indicates a bad rule or config; retrying without a
	// configuration change will fail the same way.
	ErrValidation = &AppError{
		Code:       "VAL_001",
		Message:    "Validation failed",
		Suggestion: "Fix the sync rule configuration and run again.",
	}

	// ErrNotFound indicates a referenced calendar, account, event or rule is missing.
	ErrNotFound = &AppError{
		Code:       "NF_001",
		Message:    "Resource not found",
		Suggestion: "Check that the referenced calendar or rule still exists.",
	}

	// ErrProvider indicates the upstream calendar API rejected a request.
	ErrProvider = &AppError{
		Code:       "PRV_001",
		Message:    "Calendar provider request failed",
		Suggestion: "The next scheduled pass will try again.",
	}

	// ErrNetwork indicates the upstream calendar API could not be reached.
	ErrNetwork = &AppError{
		Code:       "NET_001",
		Message:    "Network request failed",
		Suggestion: "Check connectivity; the next scheduled pass will try again.",
	}

	// ErrSerialization indicates a marker, settings or metadata blob could
	// not be encoded or decoded.
	ErrSerialization = &AppError{
		Code:       "SER_001",
		Message:    "Serialization failed",
		Suggestion: "The stored value may be corrupt; re-save the rule.",
	}

	// ErrStore indicates a local persistence failure.
	ErrStore = &AppError{
		Code:       "STO_001",
		Message:    "Calendar store operation failed",
		Suggestion: "Check the database file and its permissions.",
	}
)

// --- Constructor Functions ---

// NewValidationError reports an invalid field value.
func NewValidationError(field, details string) *AppError {
	return &AppError{
		Code:       ErrValidation.Code,
		Message:    fmt.Sprintf("Invalid %s: %s", field, details),
		Suggestion: ErrValidation.Suggestion,
	}
}

// NewNotFoundError reports a missing resource of the given kind.
func NewNotFoundError(kind, id string, cause error) *AppError {
	return &AppError{
		Code:       ErrNotFound.Code,
		Message:    fmt.Sprintf("%s %q not found", kind, id),
		Suggestion: ErrNotFound.Suggestion,
		Cause:      cause,
	}
}

// NewProviderError reports a failed provider operation.
func NewProviderError(operation, id string, cause error) *AppError {
	return &AppError{
		Code:       ErrProvider.Code,
		Message:    fmt.Sprintf("Provider %s failed for %q", operation, id),
		Suggestion: ErrProvider.Suggestion,
		Cause:      cause,
	}
}

// NewNetworkError reports an unreachable upstream.
func NewNetworkError(target string, cause error) *AppError {
	return &AppError{
		Code:       ErrNetwork.Code,
		Message:    fmt.Sprintf("Request to %s failed", target),
		Suggestion: ErrNetwork.Suggestion,
		Cause:      cause,
	}
}

// NewSerializationError reports an encode/decode failure of the named value.
func NewSerializationError(what string, cause error) *AppError {
	return &AppError{
		Code:       ErrSerialization.Code,
		Message:    fmt.Sprintf("Failed to serialize %s", what),
		Suggestion: ErrSerialization.Suggestion,
		Cause:      cause,
	}
}

// NewStoreError reports a failed store operation.
func NewStoreError(operation string, cause error) *AppError {
	return &AppError{
		Code:       ErrStore.Code,
		Message:    fmt.Sprintf("Store %s failed", operation),
		Suggestion: ErrStore.Suggestion,
		Cause:      cause,
	}
}

// --- Helper Functions ---

// GetAppError extracts the first AppError in err's chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsTransient reports whether err is the kind of failure that may succeed on
// a later pass without any configuration change.
func IsTransient(err error) bool {
	return stderrors.Is(err, ErrNetwork) || stderrors.Is(err, ErrProvider)
}

// Is re-exports the standard library helper so callers importing this
// package under its default name keep access to it.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As re-exports the standard library helper.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
