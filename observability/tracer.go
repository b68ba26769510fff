package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/agentflow/logger"
)

const instrumentationName = "github.com/kbukum/agentflow"

// InitTracer exports spans over OTLP/HTTP and installs the provider and a
// W3C trace-context propagator globally. The caller shuts the provider down.
func InitTracer(ctx context.Context, cfg Config, svc Service, log *logger.Logger) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	res, err := newResource(svc)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	log.Info("tracer initialized", logger.Fields("endpoint", cfg.Endpoint, "sample_rate", cfg.SampleRate))
	return tp, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span using the default tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer(instrumentationName).Start(ctx, name, opts...)
}

// EndSpan records err (if any) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Span names.
const (
	SpanRun       = "agentflow.run"
	SpanShadowRun = "agentflow.shadow_run"
	SpanTask      = "agentflow.task"
	SpanAgentCall = "agentflow.agent_call"
	SpanPublish   = "agentflow.publish"
)

// Attribute keys.
const (
	AttrJobID    = "job.id"
	AttrTaskID   = "task.id"
	AttrTaskKey  = "task.key"
	AttrRole     = "agent.role"
	AttrMode     = "run.mode"
	AttrAttempt  = "task.attempt"
	AttrTargetID = "target.id"
)
