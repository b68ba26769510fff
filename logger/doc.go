// Package logger provides structured logging for the engine using zerolog.
//
// Every engine component receives a *Logger and tags itself with
// WithComponent. Job and task scoped loggers are derived with WithJob and
// WithTask so each line carries the identifiers needed to follow one run
// across concurrent workers.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.New(&cfg.Logging, "agentflow").WithComponent("scheduler")
//	log.WithJob(jobID).Info("run started", logger.Fields("workers", 3))
package logger
