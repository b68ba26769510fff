package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Task and graph errors
const (
	// ErrCodeTaskFailed indicates a task exhausted its attempts.
	ErrCodeTaskFailed ErrorCode = "TASK_FAILED"
	// ErrCodeUpstreamFailed indicates a task was canceled because a predecessor failed.
	ErrCodeUpstreamFailed ErrorCode = "UPSTREAM_FAILED"
	// ErrCodeDagDeadlock indicates unresolved tasks remain but nothing can run.
	ErrCodeDagDeadlock ErrorCode = "DAG_DEADLOCK"
	// ErrCodeOutputInvalid indicates the assembled result failed the output contract.
	ErrCodeOutputInvalid ErrorCode = "OUTPUT_INVALID"
)

// Publish errors
const (
	// ErrCodeConcurrentApply indicates another publish holds the target lock.
	ErrCodeConcurrentApply ErrorCode = "CONCURRENT_APPLY"
	// ErrCodeStagingFailed indicates the staging area or the swap failed.
	ErrCodeStagingFailed ErrorCode = "STAGING_FAILED"
)

// Infrastructure errors
const (
	// ErrCodeTimeout indicates the operation ran out of time.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeDatabaseError indicates a store failure.
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	// ErrCodeExternalService indicates the agent executor returned an error.
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	// ErrCodeNotFound indicates the requested row does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidInput indicates invalid caller input or configuration.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeInternal indicates an unexpected failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeConcurrentApply: true,
	ErrCodeTimeout:         true,
	ErrCodeDatabaseError:   true,
	ErrCodeExternalService: true,
	ErrCodeDagDeadlock:     false,
	ErrCodeInternal:        false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
