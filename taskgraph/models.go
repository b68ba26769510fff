package taskgraph

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobRun is one pipeline execution.
type JobRun struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID            string     `gorm:"size:255;index;not null"`
	TargetID          string     `gorm:"size:255;index;not null"`
	EngineVersion     string     `gorm:"size:64;not null"`
	Mode              Mode       `gorm:"size:16;not null"`
	Status            RunStatus  `gorm:"size:16;index;not null"`
	ErrorCode         string     `gorm:"size:64"`
	ErrorMessage      string     `gorm:"type:text"`
	FallbackTriggered bool       `gorm:"not null;default:false"`
	StartedAt         time.Time  `gorm:"not null"`
	FinishedAt        *time.Time `json:",omitempty"`
}

func (JobRun) TableName() string { return "job_runs" }

// Task is a unit of work inside a job.
type Task struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	JobID        uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_job_tasks_job_key,priority:1;index:idx_job_tasks_job_status,priority:1"`
	TaskKey      string            `gorm:"size:64;not null;uniqueIndex:idx_job_tasks_job_key,priority:2"`
	Role         string            `gorm:"size:32;not null"`
	Status       TaskStatus        `gorm:"size:16;not null;index:idx_job_tasks_job_status,priority:2"`
	Label        string            `gorm:"size:255"`
	Weight       int               `gorm:"not null;default:0"`
	MaxAttempts  int               `gorm:"not null;default:1"`
	AttemptCount int               `gorm:"not null;default:0"`
	Seq          int               `gorm:"not null;default:0"`
	Input        datatypes.JSONMap `json:"input,omitempty"`
	Output       datatypes.JSONMap `json:"output,omitempty"`
	ErrorCode    string            `gorm:"size:64"`
	ErrorMessage string            `gorm:"type:text"`
	CreatedAt    time.Time         `gorm:"not null"`
	UpdatedAt    time.Time         `gorm:"not null"`
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

func (Task) TableName() string { return "job_tasks" }

// Dependency is a directed edge from a predecessor to a successor task.
type Dependency struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobID         uuid.UUID `gorm:"type:uuid;index;not null"`
	PredecessorID uuid.UUID `gorm:"type:uuid;index;not null"`
	SuccessorID   uuid.UUID `gorm:"type:uuid;index;not null"`
}

func (Dependency) TableName() string { return "job_task_dependencies" }

// Attempt is one execution try of a task.
type Attempt struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey"`
	TaskID       uuid.UUID     `gorm:"type:uuid;index;not null"`
	Number       int           `gorm:"not null"`
	Status       AttemptStatus `gorm:"size:16;not null"`
	StartedAt    time.Time     `gorm:"not null"`
	FinishedAt   *time.Time
	LatencyMs    *int64
	TokensIn     *int64
	TokensOut    *int64
	CostUSD      *float64
	ErrorMessage string `gorm:"type:text"`
}

func (Attempt) TableName() string { return "job_task_attempts" }

// Artifact is a durable output of a successful task.
type Artifact struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	JobID     uuid.UUID         `gorm:"type:uuid;index;not null"`
	TaskID    uuid.UUID         `gorm:"type:uuid;index;not null"`
	Kind      ArtifactKind      `gorm:"size:32;not null"`
	Content   datatypes.JSONMap `gorm:"not null"`
	Metadata  datatypes.JSONMap
	CreatedAt time.Time `gorm:"not null"`
}

func (Artifact) TableName() string { return "job_task_artifacts" }

// Event is an immutable lifecycle record. It is never read for control flow.
type Event struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	JobID     uuid.UUID         `gorm:"type:uuid;index;not null"`
	TaskID    *uuid.UUID        `gorm:"type:uuid;index"`
	Type      EventType         `gorm:"size:32;not null"`
	Data      datatypes.JSONMap `json:"data,omitempty"`
	CreatedAt time.Time         `gorm:"not null"`
}

func (Event) TableName() string { return "job_task_events" }

func (r *JobRun) BeforeCreate(_ *gorm.DB) error     { r.ID = ensureID(r.ID); return nil }
func (t *Task) BeforeCreate(_ *gorm.DB) error       { t.ID = ensureID(t.ID); return nil }
func (d *Dependency) BeforeCreate(_ *gorm.DB) error { d.ID = ensureID(d.ID); return nil }
func (a *Attempt) BeforeCreate(_ *gorm.DB) error    { a.ID = ensureID(a.ID); return nil }
func (a *Artifact) BeforeCreate(_ *gorm.DB) error   { a.ID = ensureID(a.ID); return nil }
func (e *Event) BeforeCreate(_ *gorm.DB) error      { e.ID = ensureID(e.ID); return nil }

func ensureID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

// Models returns every entity in dependency order, for AutoMigrate.
func Models() []any {
	return []any{&JobRun{}, &Task{}, &Dependency{}, &Attempt{}, &Artifact{}, &Event{}}
}
