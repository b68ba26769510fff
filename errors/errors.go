package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// AppError carries a machine-readable code alongside the message. Codes are
// what the engine persists on failed job runs and what callers branch on.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Retryable tells the caller the whole operation may succeed later.
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *AppError) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Cause != nil {
		msg += fmt.Sprintf(" (cause: %v)", e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches message-less targets by code, so the sentinels returned by Code
// work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Message == "" && t.Code == e.Code
}

// WithCause sets Cause and returns e.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets one detail and returns e.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithDetails merges details into e and returns it.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// New returns an AppError whose Retryable flag follows the code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Retryable: IsRetryableCode(code)}
}

// Code returns a message-less AppError usable as an errors.Is target.
//
//	if errors.Is(err, apperrors.Code(apperrors.ErrCodeDagDeadlock)) { ... }
func Code(code ErrorCode) *AppError {
	return &AppError{Code: code}
}

// TaskFailed reports a task that used up its attempts.
func TaskFailed(taskKey string, attempts int, cause error) *AppError {
	return New(ErrCodeTaskFailed, fmt.Sprintf("task %q failed after %d attempt(s)", taskKey, attempts)).
		WithDetails(map[string]any{"task_key": taskKey, "attempts": attempts}).
		WithCause(cause)
}

// Deadlock reports a graph with unresolved tasks and nothing runnable.
func Deadlock(jobID string, stuck int64) *AppError {
	return New(ErrCodeDagDeadlock, fmt.Sprintf("job %s has %d unresolved task(s) and nothing runnable", jobID, stuck)).
		WithDetails(map[string]any{"job_id": jobID, "stuck": stuck})
}

// OutputInvalid reports a pipeline result that breaks the output contract.
func OutputInvalid(reason string) *AppError {
	return New(ErrCodeOutputInvalid, "pipeline output is invalid: "+reason)
}

// ConcurrentApply reports a publish that found the target locked.
func ConcurrentApply(targetID string) *AppError {
	return New(ErrCodeConcurrentApply, "another publish is in progress for target "+targetID).
		WithDetail("target_id", targetID)
}

// StagingFailed reports a failed staging write or production swap step.
func StagingFailed(op string, cause error) *AppError {
	return New(ErrCodeStagingFailed, "staging "+op+" failed").
		WithDetail("operation", op).
		WithCause(cause)
}

func Timeout(operation string) *AppError {
	return New(ErrCodeTimeout, operation+" timed out").WithDetail("operation", operation)
}

// NotFound names the missing resource and, when known, its id.
func NotFound(resource, id string) *AppError {
	err := New(ErrCodeNotFound, fmt.Sprintf("the requested %s was not found", resource)).
		WithDetail("resource", resource)
	if id != "" {
		err.WithDetail("id", id)
	}
	return err
}

func InvalidInput(field, reason string) *AppError {
	err := New(ErrCodeInvalidInput, "invalid input: "+reason)
	if field != "" {
		err.WithDetail("field", field)
	}
	return err
}

// Validation wraps an already formatted list of field failures.
func Validation(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

func Internal(cause error) *AppError {
	return New(ErrCodeInternal, "an unexpected error occurred").WithCause(cause)
}

func DatabaseError(cause error) *AppError {
	return New(ErrCodeDatabaseError, "a database error occurred").WithCause(cause)
}

// ExternalServiceError reports a failed or rejected agent call for service.
func ExternalServiceError(service string, cause error) *AppError {
	return New(ErrCodeExternalService, fmt.Sprintf("the %s agent returned an error", service)).
		WithDetail("service", service).
		WithCause(cause)
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost AppError in err's chain.
// Context deadline errors map to TIMEOUT; anything else to INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeInternal
}
