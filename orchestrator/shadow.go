package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/observability"
	"github.com/kbukum/agentflow/scheduler"
	"github.com/kbukum/agentflow/taskgraph"
)

// ShadowReport describes a finished shadow run.
type ShadowReport struct {
	JobID     uuid.UUID
	Status    taskgraph.RunStatus
	ErrorCode apperrors.ErrorCode
	Err       error
	Duration  time.Duration
	Result    *RunResult
}

// RunShadow runs the pipeline for measurement only. It uses a fresh job id,
// never calls req.OnEvent, never touches production and is bounded by the
// shadow timeout on a context detached from the caller. Every failure,
// including a panic, is recorded on the JobRun and reported, never returned.
func (e *Engine) RunShadow(ctx context.Context, req RunRequest) (report ShadowReport) {
	req.JobID = uuid.New()
	req.OnEvent = nil
	report = ShadowReport{JobID: req.JobID, Status: taskgraph.RunFailed}

	log := e.runLogger(req, taskgraph.ModeShadow)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShadowTimeout)
	defer cancel()
	ctx, span := startRunSpan(ctx, observability.SpanShadowRun, req, taskgraph.ModeShadow)

	start := e.now()
	var run *taskgraph.JobRun
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.Internal(fmt.Errorf("shadow run panicked: %v", r))
			log.Error("shadow run panicked", logger.Fields(logger.FieldError, err.Cause.Error()))
			if run != nil {
				e.finalize(ctx, log, run, err, start)
			}
			report.Status = taskgraph.RunFailed
			report.ErrorCode = apperrors.ErrCodeInternal
			report.Err = err
			report.Result = nil
		}
		report.Duration = e.now().Sub(start)
		observability.EndSpan(span, report.Err)
	}()

	if err := req.validate(); err != nil {
		log.Warn("shadow run rejected", logger.Fields(logger.FieldError, err.Error()))
		report.ErrorCode = apperrors.CodeOf(err)
		report.Err = err
		return report
	}

	var err error
	run, err = e.startRun(ctx, req, taskgraph.ModeShadow, start)
	if err != nil {
		log.Warn("shadow run not recorded", logger.Fields(logger.FieldError, err.Error()))
		report.ErrorCode = apperrors.CodeOf(err)
		report.Err = err
		return report
	}

	res, err := e.pipeline(ctx, log, req, shadowSink(log), nil)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = apperrors.Timeout("shadow run").WithCause(err)
	}
	e.finalize(ctx, log, run, err, start)

	if err != nil {
		log.Warn("shadow run failed", logger.Fields(
			logger.FieldError, err.Error(),
			"code", string(apperrors.CodeOf(err)),
		))
		report.ErrorCode = apperrors.CodeOf(err)
		report.Err = err
		return report
	}
	log.Info("shadow run succeeded", logger.DurationFields("shadow_run", e.now().Sub(start)))
	report.Status = taskgraph.RunSucceeded
	report.Result = res
	return report
}

// StartShadow runs RunShadow on its own goroutine. The channel delivers the
// report and is then closed.
func (e *Engine) StartShadow(ctx context.Context, req RunRequest) <-chan ShadowReport {
	ch := make(chan ShadowReport, 1)
	go func() {
		defer close(ch)
		ch <- e.RunShadow(ctx, req)
	}()
	return ch
}

func shadowSink(log *logger.Logger) scheduler.Sink {
	return func(name string, data map[string]any) {
		fields := logger.Fields("event", name)
		if key, ok := data["taskKey"]; ok {
			fields[logger.FieldTaskKey] = key
		}
		log.Debug("shadow event", fields)
	}
}
