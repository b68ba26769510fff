package scheduler

import (
	"context"

	"github.com/kbukum/agentflow/taskgraph"
)

// Outcome is the result of executing one claimed task.
type Outcome struct {
	// Output is the stored task output on success.
	Output map[string]any
	// Retrying is set when the attempt failed and the task went back to ready.
	Retrying bool
}

// TaskExecutor runs one claimed task and records its outcome on the task
// row. The outcome must commit together with its effect on the graph:
// either through MarkTaskStatus, or by calling Promote (success) or
// CancelDownstream (terminal failure) in the same transaction. A terminal
// failure is returned as *TaskFailedError.
type TaskExecutor interface {
	Execute(ctx context.Context, task *taskgraph.Task) (Outcome, error)
}

// TaskExecutorFunc adapts a function to TaskExecutor.
type TaskExecutorFunc func(ctx context.Context, task *taskgraph.Task) (Outcome, error)

// Execute calls f.
func (f TaskExecutorFunc) Execute(ctx context.Context, task *taskgraph.Task) (Outcome, error) {
	return f(ctx, task)
}

// Sink receives lifecycle notifications. Implementations must not block.
type Sink func(name string, data map[string]any)

// Emit calls s when it is set.
func (s Sink) Emit(name string, data map[string]any) {
	if s != nil {
		s(name, data)
	}
}

// Sink event names.
const (
	EventTaskStarted  = "taskStarted"
	EventTaskDone     = "taskDone"
	EventTaskFailed   = "taskFailed"
	EventTaskRetry    = "taskRetry"
	EventTasksSkipped = "tasksSkipped"
)
