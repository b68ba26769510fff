package taskgraph

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusReady     TaskStatus = "ready"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
	StatusCanceled  TaskStatus = "canceled"
	StatusBlocked   TaskStatus = "blocked"
)

// transitions lists the allowed target states per source state.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending: {StatusReady, StatusSkipped, StatusCanceled},
	StatusReady:   {StatusRunning, StatusSkipped, StatusCanceled},
	StatusBlocked: {StatusSkipped, StatusCanceled},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusReady},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s.IsSuccess() || s.IsFailure()
}

// IsSuccess reports whether s unblocks successors.
func (s TaskStatus) IsSuccess() bool {
	return s == StatusSucceeded || s == StatusSkipped
}

// IsFailure reports whether s is a terminal failure.
func (s TaskStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusCanceled
}

// Cancelable lists the statuses failure propagation and skips may overwrite.
var Cancelable = []TaskStatus{StatusPending, StatusReady, StatusBlocked}

// RunStatus is the lifecycle state of a job run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// AttemptStatus is the outcome of a single execution try.
type AttemptStatus string

const (
	AttemptRunning   AttemptStatus = "running"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// Mode distinguishes caller-visible runs from measurement-only shadow runs.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeShadow Mode = "shadow"
)

// ArtifactKind tags a durable task output.
type ArtifactKind string

const (
	ArtifactPlan          ArtifactKind = "plan"
	ArtifactCode          ArtifactKind = "code"
	ArtifactImageManifest ArtifactKind = "image_manifest"
	ArtifactQAReport      ArtifactKind = "qa_report"
	ArtifactPublishResult ArtifactKind = "publish_result"
)

// EventType names an audit event.
type EventType string

const (
	EventTaskStarted       EventType = "task_started"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
	EventTaskSkipped       EventType = "task_skipped"
	EventTaskAttemptFailed EventType = "task_attempt_failed"
	EventTaskCanceled      EventType = "task_canceled"
)

// Error codes stored on task rows.
const (
	CodeUpstreamFailed = "upstream_failed"
	CodeAgentError     = "agent_error"
	CodeRunAborted     = "run_aborted"
)
