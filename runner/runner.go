package runner

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kbukum/agentflow/agent"
	"github.com/kbukum/agentflow/database"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/observability"
	"github.com/kbukum/agentflow/scheduler"
	"github.com/kbukum/agentflow/taskgraph"
)

// JobContext is the caller-supplied context shared by every task of a job.
type JobContext struct {
	JobID          uuid.UUID
	UserID         string
	TargetID       string
	UserMessage    string
	Prompt         string
	DetectedSkills []string
}

// Option configures a Runner.
type Option func(*Runner)

// WithSink forwards lifecycle notifications to sink.
func WithSink(sink scheduler.Sink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithMetrics records attempt and task outcomes on m.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithSkipRules replaces the default skip rules.
func WithSkipRules(rules []SkipRule) Option {
	return func(r *Runner) { r.rules = rules }
}

// Runner executes claimed tasks of one job.
type Runner struct {
	db      *database.DB
	log     *logger.Logger
	exec    agent.Executor
	job     JobContext
	sink    scheduler.Sink
	metrics *observability.EngineMetrics
	rules   []SkipRule
}

var _ scheduler.TaskExecutor = (*Runner)(nil)

// New creates a Runner bound to one job.
func New(db *database.DB, log *logger.Logger, exec agent.Executor, job JobContext, opts ...Option) *Runner {
	r := &Runner{
		db:    db,
		log:   log.WithComponent("runner").WithJob(job.JobID.String()),
		exec:  exec,
		job:   job,
		rules: DefaultSkipRules(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs one attempt of a task the scheduler has just claimed.
func (r *Runner) Execute(ctx context.Context, task *taskgraph.Task) (scheduler.Outcome, error) {
	log := r.log.WithTask(task.ID.String(), task.TaskKey)
	start := time.Now().UTC()

	attempt := &taskgraph.Attempt{
		TaskID:    task.ID,
		Number:    task.AttemptCount,
		Status:    taskgraph.AttemptRunning,
		StartedAt: start,
	}
	err := r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(attempt).Error; err != nil {
			return err
		}
		return tx.Create(r.event(task.ID, taskgraph.EventTaskStarted, map[string]any{"attempt": attempt.Number})).Error
	})
	if err != nil {
		return scheduler.Outcome{}, fmt.Errorf("record attempt: %w", err)
	}
	r.sink.Emit(scheduler.EventTaskStarted, r.taskData(task, nil))

	ctx, span := observability.StartSpan(ctx, observability.SpanTask, trace.WithAttributes(
		attribute.String(observability.AttrJobID, r.job.JobID.String()),
		attribute.String(observability.AttrTaskKey, task.TaskKey),
		attribute.String(observability.AttrRole, task.Role),
		attribute.Int(observability.AttrAttempt, attempt.Number),
	))

	input, err := r.accumulatedInput(ctx, task)
	if err != nil {
		observability.EndSpan(span, err)
		return scheduler.Outcome{}, err
	}

	out, callErr := r.exec.CallAgent(ctx, agent.Role(task.Role), task.TaskKey, input)
	observability.EndSpan(span, callErr)

	if callErr != nil {
		return r.fail(ctx, log, task, attempt, callErr)
	}
	return r.succeed(ctx, log, task, attempt, out)
}

// accumulatedInput merges the task input, the job context and the outputs
// of succeeded predecessors keyed by task key under "upstream".
func (r *Runner) accumulatedInput(ctx context.Context, task *taskgraph.Task) (agent.Payload, error) {
	input := make(agent.Payload, len(task.Input)+4)
	maps.Copy(input, task.Input)
	input["userMessage"] = r.job.UserMessage
	input["prompt"] = r.job.Prompt
	skills := r.job.DetectedSkills
	if skills == nil {
		skills = []string{}
	}
	input["detectedSkills"] = skills

	var preds []taskgraph.Task
	err := r.db.WithContext(ctx).
		Model(&taskgraph.Task{}).
		Select("job_tasks.task_key", "job_tasks.output").
		Joins("JOIN job_task_dependencies AS d ON d.predecessor_id = job_tasks.id").
		Where("d.successor_id = ? AND job_tasks.status = ?", task.ID, taskgraph.StatusSucceeded).
		Find(&preds).Error
	if err != nil {
		return nil, fmt.Errorf("load upstream outputs: %w", err)
	}

	upstream := make(map[string]any, len(preds))
	for _, p := range preds {
		upstream[p.TaskKey] = map[string]any(p.Output)
	}
	input["upstream"] = upstream
	return input, nil
}

func (r *Runner) succeed(ctx context.Context, log *logger.Logger, task *taskgraph.Task, attempt *taskgraph.Attempt, out agent.Payload) (scheduler.Outcome, error) {
	now := time.Now().UTC()
	usage := agent.UsageOf(out)
	latency := now.Sub(attempt.StartedAt).Milliseconds()
	if usage.LatencyMs != nil {
		latency = *usage.LatencyMs
	}
	output := agent.StripInternal(out)
	artifacts := artifactsFor(r.job.JobID, task, output, now)

	var skips []skipped
	err := r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&taskgraph.Attempt{}).Where("id = ?", attempt.ID).Updates(map[string]any{
			"status":      taskgraph.AttemptSucceeded,
			"finished_at": now,
			"latency_ms":  latency,
			"tokens_in":   usage.TokensIn,
			"tokens_out":  usage.TokensOut,
			"cost_usd":    usage.CostUSD,
		}).Error; err != nil {
			return err
		}
		if len(artifacts) > 0 {
			if err := tx.Create(&artifacts).Error; err != nil {
				return err
			}
		}
		res := tx.Model(&taskgraph.Task{}).
			Where("id = ? AND status = ?", task.ID, taskgraph.StatusRunning).
			Updates(map[string]any{
				"status":        taskgraph.StatusSucceeded,
				"output":        datatypes.JSONMap(output),
				"error_code":    "",
				"error_message": "",
				"finished_at":   now,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("task %s is no longer running", task.TaskKey)
		}
		if err := tx.Create(r.event(task.ID, taskgraph.EventTaskCompleted, map[string]any{
			"attempt":   attempt.Number,
			"latencyMs": latency,
			"artifacts": len(artifacts),
		})).Error; err != nil {
			return err
		}

		var err error
		if skips, err = r.applySkipRules(tx, task.TaskKey, output); err != nil {
			return err
		}
		_, err = scheduler.Promote(tx, r.job.JobID)
		return err
	})
	if err != nil {
		return scheduler.Outcome{}, fmt.Errorf("record success of %s: %w", task.TaskKey, err)
	}

	r.metrics.RecordAttempt(ctx, task.TaskKey, string(taskgraph.AttemptSucceeded), time.Duration(latency)*time.Millisecond)
	r.metrics.RecordTask(ctx, task.TaskKey, string(taskgraph.StatusSucceeded))
	r.sink.Emit(scheduler.EventTaskDone, r.taskData(task, map[string]any{"output": output}))
	log.Info("task succeeded", logger.Fields(logger.FieldAttempt, attempt.Number, logger.FieldDuration, latency))
	r.reportSkipped(ctx, log, skips)
	return scheduler.Outcome{Output: output}, nil
}

func (r *Runner) fail(ctx context.Context, log *logger.Logger, task *taskgraph.Task, attempt *taskgraph.Attempt, callErr error) (scheduler.Outcome, error) {
	// Bookkeeping must land even when the call failed because ctx ended.
	bctx := context.WithoutCancel(ctx)
	now := time.Now().UTC()
	latency := now.Sub(attempt.StartedAt)
	msg := callErr.Error()

	retry := task.AttemptCount < task.MaxAttempts && ctx.Err() == nil

	var canceled []uuid.UUID
	err := r.db.WithTransaction(bctx, func(tx *gorm.DB) error {
		if err := tx.Model(&taskgraph.Attempt{}).Where("id = ?", attempt.ID).Updates(map[string]any{
			"status":        taskgraph.AttemptFailed,
			"finished_at":   now,
			"latency_ms":    latency.Milliseconds(),
			"error_message": msg,
		}).Error; err != nil {
			return err
		}

		updates := map[string]any{"error_message": msg, "updated_at": now}
		evType := taskgraph.EventTaskAttemptFailed
		if retry {
			updates["status"] = taskgraph.StatusReady
		} else {
			updates["status"] = taskgraph.StatusFailed
			updates["error_code"] = taskgraph.CodeAgentError
			updates["finished_at"] = now
			evType = taskgraph.EventTaskFailed
		}
		if err := tx.Model(&taskgraph.Task{}).
			Where("id = ? AND status = ?", task.ID, taskgraph.StatusRunning).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Create(r.event(task.ID, evType, map[string]any{
			"attempt": attempt.Number,
			"error":   msg,
		})).Error; err != nil {
			return err
		}
		if retry {
			return nil
		}
		var err error
		canceled, err = scheduler.CancelDownstream(tx, r.job.JobID, task.ID)
		return err
	})
	if err != nil {
		return scheduler.Outcome{}, fmt.Errorf("record failure of %s: %w", task.TaskKey, err)
	}

	r.metrics.RecordAttempt(bctx, task.TaskKey, string(taskgraph.AttemptFailed), latency)
	fields := logger.Fields(logger.FieldAttempt, attempt.Number, logger.FieldError, msg)

	if retry {
		log.Warn("task attempt failed, requeued", fields)
		r.sink.Emit(scheduler.EventTaskRetry, r.taskData(task, map[string]any{"error": msg}))
		return scheduler.Outcome{Retrying: true}, nil
	}

	fields["canceled_downstream"] = len(canceled)
	log.Error("task failed", fields)
	r.metrics.RecordTask(bctx, task.TaskKey, string(taskgraph.StatusFailed))
	r.sink.Emit(scheduler.EventTaskFailed, r.taskData(task, map[string]any{"error": msg}))
	return scheduler.Outcome{}, &scheduler.TaskFailedError{
		TaskID:   task.ID,
		TaskKey:  task.TaskKey,
		Attempts: task.AttemptCount,
		Err:      callErr,
	}
}

func (r *Runner) event(taskID uuid.UUID, typ taskgraph.EventType, data map[string]any) *taskgraph.Event {
	id := taskID
	return &taskgraph.Event{
		JobID:     r.job.JobID,
		TaskID:    &id,
		Type:      typ,
		Data:      datatypes.JSONMap(data),
		CreatedAt: time.Now().UTC(),
	}
}

func (r *Runner) taskData(task *taskgraph.Task, extra map[string]any) map[string]any {
	data := map[string]any{
		"jobId":   r.job.JobID.String(),
		"taskId":  task.ID.String(),
		"taskKey": task.TaskKey,
		"role":    task.Role,
		"label":   task.Label,
		"weight":  task.Weight,
		"attempt": task.AttemptCount,
	}
	maps.Copy(data, extra)
	return data
}
