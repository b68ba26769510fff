package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/agentflow/logger"
)

// InitMeter exports metrics over OTLP/HTTP every cfg.Interval and installs
// the provider globally. The caller shuts the provider down.
func InitMeter(ctx context.Context, cfg Config, svc Service, log *logger.Logger) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	res, err := newResource(svc)
	if err != nil {
		return nil, err
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	log.Info("meter initialized", logger.Fields("endpoint", cfg.Endpoint, "interval", cfg.Interval.String()))
	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// EngineMetrics holds the engine's metric instruments.
type EngineMetrics struct {
	taskOutcomes    metric.Int64Counter
	attemptDuration metric.Float64Histogram
	runOutcomes     metric.Int64Counter
	runDuration     metric.Float64Histogram
	agentCalls      metric.Int64Counter
	agentDuration   metric.Float64Histogram
	tasksSkipped    metric.Int64Counter
}

// NewEngineMetrics creates metric instruments on the given meter.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	taskOutcomes, err := meter.Int64Counter("agentflow.task.outcomes",
		metric.WithDescription("Terminal task outcomes by task key and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating agentflow.task.outcomes counter: %w", err)
	}

	attemptDuration, err := meter.Float64Histogram("agentflow.attempt.duration",
		metric.WithDescription("Duration of task attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating agentflow.attempt.duration histogram: %w", err)
	}

	runOutcomes, err := meter.Int64Counter("agentflow.run.outcomes",
		metric.WithDescription("Job run outcomes by mode, status and error code"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating agentflow.run.outcomes counter: %w", err)
	}

	runDuration, err := meter.Float64Histogram("agentflow.run.duration",
		metric.WithDescription("Duration of job runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating agentflow.run.duration histogram: %w", err)
	}

	agentCalls, err := meter.Int64Counter("agentflow.agent.calls",
		metric.WithDescription("Agent executor calls by role and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating agentflow.agent.calls counter: %w", err)
	}

	agentDuration, err := meter.Float64Histogram("agentflow.agent.duration",
		metric.WithDescription("Duration of agent executor calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating agentflow.agent.duration histogram: %w", err)
	}

	tasksSkipped, err := meter.Int64Counter("agentflow.task.skipped",
		metric.WithDescription("Tasks skipped by conditional rules, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating agentflow.task.skipped counter: %w", err)
	}

	return &EngineMetrics{
		taskOutcomes:    taskOutcomes,
		attemptDuration: attemptDuration,
		runOutcomes:     runOutcomes,
		runDuration:     runDuration,
		agentCalls:      agentCalls,
		agentDuration:   agentDuration,
		tasksSkipped:    tasksSkipped,
	}, nil
}

// RecordTask records a terminal task outcome.
func (m *EngineMetrics) RecordTask(ctx context.Context, taskKey, status string) {
	if m == nil {
		return
	}
	m.taskOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_key", taskKey),
		attribute.String("status", status),
	))
}

// RecordAttempt records the duration and outcome of one attempt.
func (m *EngineMetrics) RecordAttempt(ctx context.Context, taskKey, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("task_key", taskKey),
		attribute.String("status", status),
	))
}

// RecordSkipped counts tasks skipped for reason.
func (m *EngineMetrics) RecordSkipped(ctx context.Context, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.tasksSkipped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRun records a finalized job run.
func (m *EngineMetrics) RecordRun(ctx context.Context, mode, status, errorCode string, d time.Duration) {
	if m == nil {
		return
	}
	m.runOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
		attribute.String("error_code", errorCode),
	))
	m.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
}

// RecordAgentCall records one agent executor call.
func (m *EngineMetrics) RecordAgentCall(ctx context.Context, role, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("status", status),
	)
	m.agentCalls.Add(ctx, 1, attrs)
	m.agentDuration.Record(ctx, d.Seconds(), attrs)
}
