// Package taskgraph defines the persisted entities of a pipeline run and the
// task status state machine.
//
// A JobRun owns a set of Tasks connected by Dependency edges. Every execution
// try of a task is an Attempt; successful tasks leave Artifacts, and every
// lifecycle change leaves an Event for audit. The package holds no scheduling
// logic: it only names the states and the transitions allowed between them.
package taskgraph
