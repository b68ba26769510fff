package scheduler

import (
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/kbukum/agentflow/errors"
)

// TaskFailedError reports a task that failed after exhausting its attempts.
type TaskFailedError struct {
	TaskID   uuid.UUID
	TaskKey  string
	Attempts int
	Err      error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s (%s) failed after %d attempt(s): %v", e.TaskKey, e.TaskID, e.Attempts, e.Err)
}

// Unwrap exposes a TASK_FAILED AppError whose cause is the agent error.
func (e *TaskFailedError) Unwrap() error {
	return apperrors.TaskFailed(e.TaskKey, e.Attempts, e.Err).WithDetail("task_id", e.TaskID.String())
}

// DeadlockError reports a job with unresolved tasks and nothing runnable.
type DeadlockError struct {
	JobID uuid.UUID
	Stuck int64
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("dag deadlock in job %s: %d task(s) can never run", e.JobID, e.Stuck)
}

// Unwrap exposes a DAG_DEADLOCK AppError.
func (e *DeadlockError) Unwrap() error {
	return apperrors.Deadlock(e.JobID.String(), e.Stuck)
}
