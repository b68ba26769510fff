// Package orchestrator is the entry point of the engine.
//
// An Engine records a JobRun, materializes the workflow for the job, lets
// the scheduler drive the runner over it and, when every task settled,
// assembles and validates the result and publishes it through the staging
// manager. Any failure finalizes the JobRun as failed with
// fallback_triggered set so the caller can fall back to another path.
//
//	engine, err := orchestrator.New(db, log, exec, stagingManager, orchestrator.Config{})
//	res, err := engine.Run(ctx, orchestrator.RunRequest{
//	    UserID:      "user-1",
//	    TargetID:    "site-42",
//	    UserMessage: "add a pricing page",
//	    OnEvent:     func(name string, data map[string]any) { ... },
//	})
//
// RunShadow runs the same pipeline for measurement only: it never calls
// OnEvent, never writes production and never returns an error.
package orchestrator
