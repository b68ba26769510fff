// Package dag defines job workflows and materializes them as task graphs.
//
// A Workflow is a static, ordered list of task definitions plus the edges
// between them. DefaultWorkflow returns the content pipeline the engine runs
// when no workflow file is configured; LoadWorkflow reads the same shape
// from YAML.
//
// Builder.Build turns a Workflow into taskgraph rows for one job inside a
// single transaction. Levels groups keys by dependency depth for display and
// is not used when building or running a job.
package dag
