// Package errors provides the engine's structured error type.
//
// Every failure that ends a run carries an ErrorCode so the caller (and the
// persisted JobRun) can tell a task failure from a deadlock, an output
// contract violation or a publish conflict.
package errors
