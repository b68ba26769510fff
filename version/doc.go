// Package version reports the engine build version. Every JobRun records
// EngineVersion so runs can be compared across releases.
//
// Version, git commit, branch, and build time are set at compile time
// via -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/agentflow/version.Version=1.0.0" ./cmd/agentflow
package version
