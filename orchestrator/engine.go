package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/agentflow/agent"
	"github.com/kbukum/agentflow/dag"
	"github.com/kbukum/agentflow/database"
	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/observability"
	"github.com/kbukum/agentflow/runner"
	"github.com/kbukum/agentflow/scheduler"
	"github.com/kbukum/agentflow/staging"
	"github.com/kbukum/agentflow/taskgraph"
	"github.com/kbukum/agentflow/validation"
	"github.com/kbukum/agentflow/version"
)

// Caller-facing event names.
const (
	EventCompleted = "completed"
	EventChat      = "chat"
)

// DefaultShadowTimeout bounds a shadow run.
const DefaultShadowTimeout = 5 * time.Minute

// Config tunes an Engine.
type Config struct {
	Scheduler     scheduler.Config
	ShadowTimeout time.Duration
	// Workflow defaults to dag.DefaultWorkflow.
	Workflow *dag.Workflow
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	c.Scheduler.ApplyDefaults()
	if c.ShadowTimeout <= 0 {
		c.ShadowTimeout = DefaultShadowTimeout
	}
	if c.Workflow == nil {
		c.Workflow = dag.DefaultWorkflow()
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records run, task and agent metrics on m.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// RunRequest describes one pipeline run.
type RunRequest struct {
	UserID         string
	TargetID       string
	UserMessage    string
	JobID          uuid.UUID // generated when zero
	Prompt         string
	DetectedSkills []string
	OnEvent        scheduler.Sink
}

func (r RunRequest) validate() error {
	return validation.New().
		Required("user_id", r.UserID).
		SafeSegment("user_id", r.UserID).
		Required("target_id", r.TargetID).
		SafeSegment("target_id", r.TargetID).
		Validate()
}

func (r RunRequest) jobContext() runner.JobContext {
	return runner.JobContext{
		JobID:          r.JobID,
		UserID:         r.UserID,
		TargetID:       r.TargetID,
		UserMessage:    r.UserMessage,
		Prompt:         r.Prompt,
		DetectedSkills: r.DetectedSkills,
	}
}

// RunResult is what a successful run produced. Chat runs carry the intent
// message and no Result.
type RunResult struct {
	JobID   uuid.UUID
	Chat    bool
	Message string
	Result  *Result
}

// Engine runs the content pipeline end to end.
type Engine struct {
	db       *database.DB
	log      *logger.Logger
	exec     agent.Executor
	staging  *staging.Manager
	builder  *dag.Builder
	sched    *scheduler.Scheduler
	workflow *dag.Workflow
	cfg      Config
	metrics  *observability.EngineMetrics
	now      func() time.Time
}

// New creates an Engine. The workflow is validated once here.
func New(db *database.DB, log *logger.Logger, exec agent.Executor, stg *staging.Manager, cfg Config, opts ...Option) (*Engine, error) {
	if db == nil || exec == nil || stg == nil {
		return nil, errors.New("orchestrator: database, executor and staging manager are required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Workflow.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid workflow: %w", err)
	}

	e := &Engine{
		db:       db,
		log:      log.WithComponent("orchestrator"),
		exec:     agent.WithRecovery()(exec),
		staging:  stg,
		builder:  dag.NewBuilder(db, log),
		sched:    scheduler.New(db, log, cfg.Scheduler),
		workflow: cfg.Workflow,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes the pipeline for req and publishes the result to the
// target. On failure the JobRun is finalized with fallback_triggered and
// the error is returned unchanged so errors.CodeOf reports its code.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.JobID == uuid.Nil {
		req.JobID = uuid.New()
	}
	log := e.runLogger(req, taskgraph.ModeNormal)

	ctx, span := startRunSpan(ctx, observability.SpanRun, req, taskgraph.ModeNormal)
	start := e.now()
	run, err := e.startRun(ctx, req, taskgraph.ModeNormal, start)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}

	var stagingDir string
	defer func() { e.staging.CleanupStagingDir(stagingDir) }()

	res, err := e.pipeline(ctx, log, req, req.OnEvent, &stagingDir)
	e.finalize(ctx, log, run, err, start)
	observability.EndSpan(span, err)
	if err != nil {
		log.Error("run failed", logger.Fields(
			logger.FieldError, err.Error(),
			"code", string(apperrors.CodeOf(err)),
		))
		return nil, err
	}

	if res.Chat {
		req.OnEvent.Emit(EventChat, map[string]any{"type": EventChat, "message": res.Message})
	} else {
		req.OnEvent.Emit(EventCompleted, res.Result.EventData())
	}
	log.Info("run succeeded", logger.DurationFields("run", e.now().Sub(start)))
	return res, nil
}

// pipeline builds the job graph, drives it to completion and assembles the
// result. A non-nil stagingDir publishes the result; the created directory
// is stored there for the caller to clean up.
func (e *Engine) pipeline(ctx context.Context, log *logger.Logger, req RunRequest, sink scheduler.Sink, stagingDir *string) (*RunResult, error) {
	if _, err := e.builder.Build(ctx, req.JobID, e.workflow); err != nil {
		return nil, err
	}

	r := runner.New(e.db, e.log, e.exec, req.jobContext(),
		runner.WithSink(sink),
		runner.WithMetrics(e.metrics),
	)
	if err := e.sched.RunWorkflow(ctx, req.JobID, r); err != nil {
		return nil, err
	}

	outputs, err := e.outputs(ctx, req.JobID)
	if err != nil {
		return nil, err
	}

	res := &RunResult{JobID: req.JobID}
	if intent, ok := outputs[dag.KeyIntent]; ok && runner.IsConversational(intent) {
		res.Chat = true
		res.Message = stringField(intent, "message")
		log.Info("conversational intent, nothing to publish")
		return res, nil
	}

	result := Assemble(outputs)
	if err := Validate(result); err != nil {
		return nil, err
	}
	res.Result = &result

	if stagingDir == nil {
		return res, nil
	}
	if err := e.publish(ctx, req, result, stagingDir); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) publish(ctx context.Context, req RunRequest, result Result, stagingDir *string) (err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanPublish, trace.WithAttributes(
		attribute.String(observability.AttrJobID, req.JobID.String()),
		attribute.String(observability.AttrTargetID, req.TargetID),
	))
	defer func() { observability.EndSpan(span, err) }()

	dir, err := e.staging.CreateStagingDir(req.JobID)
	if err != nil {
		return err
	}
	*stagingDir = dir

	files := make([]staging.File, 0, len(result.Files))
	for _, f := range result.Files {
		files = append(files, staging.File{Path: f.Path, Content: f.Content})
	}
	if err := e.staging.WriteFiles(ctx, dir, files); err != nil {
		return err
	}
	return e.staging.ApplyToProduction(ctx, req.UserID, req.TargetID, dir)
}

// outputs returns the outputs of the job's succeeded tasks keyed by task key.
func (e *Engine) outputs(ctx context.Context, jobID uuid.UUID) (map[string]map[string]any, error) {
	var tasks []taskgraph.Task
	err := e.db.WithContext(ctx).
		Select("task_key", "output").
		Where("job_id = ? AND status = ?", jobID, taskgraph.StatusSucceeded).
		Find(&tasks).Error
	if err != nil {
		return nil, database.FromDatabase(err, "task")
	}
	out := make(map[string]map[string]any, len(tasks))
	for _, t := range tasks {
		out[t.TaskKey] = map[string]any(t.Output)
	}
	return out, nil
}

func (e *Engine) startRun(ctx context.Context, req RunRequest, mode taskgraph.Mode, start time.Time) (*taskgraph.JobRun, error) {
	run := &taskgraph.JobRun{
		ID:            req.JobID,
		UserID:        req.UserID,
		TargetID:      req.TargetID,
		EngineVersion: version.EngineVersion(),
		Mode:          mode,
		Status:        taskgraph.RunRunning,
		StartedAt:     start.UTC(),
	}
	if err := e.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, database.FromDatabase(err, "job run")
	}
	return run, nil
}

// finalize records the terminal state of run. It runs on a context detached
// from cancellation so a canceled or timed-out run is still recorded.
func (e *Engine) finalize(ctx context.Context, log *logger.Logger, run *taskgraph.JobRun, runErr error, start time.Time) {
	ctx = context.WithoutCancel(ctx)
	finished := e.now().UTC()

	status := taskgraph.RunSucceeded
	var code apperrors.ErrorCode
	updates := map[string]any{"finished_at": finished}
	if runErr != nil {
		status = taskgraph.RunFailed
		code = apperrors.CodeOf(runErr)
		updates["error_code"] = string(code)
		updates["error_message"] = runErr.Error()
		updates["fallback_triggered"] = run.Mode == taskgraph.ModeNormal
	}
	updates["status"] = status

	err := e.db.WithContext(ctx).
		Model(&taskgraph.JobRun{}).
		Where("id = ? AND status = ?", run.ID, taskgraph.RunRunning).
		Updates(updates).Error
	if err != nil {
		log.Error("failed to finalize job run", logger.ErrorFields("finalize", err))
	}
	e.metrics.RecordRun(ctx, string(run.Mode), string(status), string(code), finished.Sub(start))
}

func (e *Engine) runLogger(req RunRequest, mode taskgraph.Mode) *logger.Logger {
	return e.log.WithJob(req.JobID.String()).WithFields(logger.Fields(
		logger.FieldUserID, req.UserID,
		logger.FieldTargetID, req.TargetID,
		logger.FieldMode, string(mode),
	))
}

func startRunSpan(ctx context.Context, name string, req RunRequest, mode taskgraph.Mode) (context.Context, trace.Span) {
	return observability.StartSpan(ctx, name, trace.WithAttributes(
		attribute.String(observability.AttrJobID, req.JobID.String()),
		attribute.String(observability.AttrTargetID, req.TargetID),
		attribute.String(observability.AttrMode, string(mode)),
	))
}
