package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory categorizes errors for handling and reporting.
type ErrorCategory string

const (
	// ErrCategoryDaemonCommunication indicates a transport failure or non-2xx daemon response.
	ErrCategoryDaemonCommunication ErrorCategory = "daemon_communication"
	// ErrCategoryNotFound indicates a session lookup miss in the store.
	ErrCategoryNotFound ErrorCategory = "not_found"
	// ErrCategoryMissingMFAToken indicates the user declined or cancelled an MFA prompt.
	ErrCategoryMissingMFAToken ErrorCategory = "missing_mfa_token"
	// ErrCategoryParse indicates malformed persisted state.
	ErrCategoryParse ErrorCategory = "parse"
	// ErrCategoryValidation indicates invalid input.
	ErrCategoryValidation ErrorCategory = "validation"
	// ErrCategoryConflict indicates a duplicate session id.
	ErrCategoryConflict ErrorCategory = "conflict"
	// ErrCategoryUnsupported indicates no registered service handles a session type.
	ErrCategoryUnsupported ErrorCategory = "unsupported"
)

// Error is a structured error with category and context.
type Error struct {
	Category  ErrorCategory
	Message   string
	Operation string
	SessionID string
	Cause     error
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Category, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("[%s:%s] %s", e.Operation, e.Category, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same category.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Category == other.Category
	}
	return false
}

// NewError creates a new Error.
func NewError(category ErrorCategory, message string) *Error {
	return &Error{Category: category, Message: message}
}

// WithOperation sets the operation.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithSession sets the session id.
func (e *Error) WithSession(id string) *Error {
	e.SessionID = id
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// ErrDaemonCommunication creates a DaemonCommunicationError.
func ErrDaemonCommunication(message string) *Error {
	return NewError(ErrCategoryDaemonCommunication, message).WithRetryable(true)
}

// ErrSessionNotFound creates a SessionNotFoundError.
func ErrSessionNotFound(id string) *Error {
	return NewError(ErrCategoryNotFound, fmt.Sprintf("session not found: %s", id)).WithSession(id)
}

// ErrMissingMFAToken creates a MissingMfaTokenError.
func ErrMissingMFAToken(id string) *Error {
	return NewError(ErrCategoryMissingMFAToken, fmt.Sprintf("mfa token not provided for session %s", id)).WithSession(id)
}

// ErrParse creates a ParseError.
func ErrParse(message string) *Error {
	return NewError(ErrCategoryParse, message)
}

// ErrValidation creates a validation error.
func ErrValidation(message string) *Error {
	return NewError(ErrCategoryValidation, message)
}

// ErrConflict creates a conflict error for a duplicate id.
func ErrConflict(id string) *Error {
	return NewError(ErrCategoryConflict, fmt.Sprintf("session already exists: %s", id)).WithSession(id)
}

// ErrUnsupported creates an error for a session type with no registered service.
func ErrUnsupported(t Type) *Error {
	return NewError(ErrCategoryUnsupported, fmt.Sprintf("no service registered for session type %q", t))
}

// IsCategory checks if an error is of a specific category.
func IsCategory(err error, category ErrorCategory) bool {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Category == category
	}
	return false
}

// IsNotFound reports whether err is a SessionNotFoundError.
func IsNotFound(err error) bool {
	return IsCategory(err, ErrCategoryNotFound)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Retryable
	}
	return false
}

// StepFailure records one failed best-effort step of a cascade.
type StepFailure struct {
	SessionID string
	Step      string
	Err       error
}

// CascadeError reports the dependent sub-steps that failed while deleting a
// parent session. The parent itself was deleted; the listed dependents may
// have left orphaned state in the daemon.
type CascadeError struct {
	ParentID string
	Failures []StepFailure
}

// Error implements the error interface.
func (e *CascadeError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Step, f.SessionID, f.Err))
	}
	return fmt.Sprintf("deleted session %s with %d failed dependent steps: %s",
		e.ParentID, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual step errors.
func (e *CascadeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
