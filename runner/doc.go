// Package runner executes a single claimed task.
//
// Runner.Execute records an attempt, builds the accumulated agent input
// (task input, job context and the outputs of succeeded predecessors under
// "upstream"), calls the agent executor for the task's role and persists the
// outcome: artifacts, task status, audit events and sink notifications.
// Failed attempts are requeued until the task's attempt budget is spent.
//
// After a task succeeds, the runner applies the skip rules keyed on it, for
// example a non-edit intent skips the rest of the content pipeline.
package runner
