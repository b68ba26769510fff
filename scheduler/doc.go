// Package scheduler drives a job's task graph to completion.
//
// Coordination happens entirely through the store. Workers promote pending
// tasks whose predecessors have all succeeded or been skipped, claim the
// oldest ready task with a compare-and-swap update, hand it to a
// TaskExecutor, and repeat until nothing is runnable.
//
//	s := scheduler.New(db, log, scheduler.Config{Workers: 3})
//	err := s.RunWorkflow(ctx, jobID, runner)
//
// A terminal task failure cancels every task reachable from it, stops
// further claims in all workers and fails the run with *TaskFailedError.
// A graph that still has unresolved tasks but nothing ready or running
// fails with *DeadlockError.
package scheduler
