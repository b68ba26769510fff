// Package observability wires OpenTelemetry tracing and metrics for the
// engine.
//
// Setup starts both OTLP/HTTP exporters when enabled:
//
//	shutdown, err := observability.Setup(ctx, cfg.Observability, observability.Service{Name: "agentflow"}, log)
//	defer shutdown(ctx)
//
// Spans cover a run, each task attempt, each agent call and the publish step:
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanRun)
//	defer observability.EndSpan(span, err)
//
// EngineMetrics records task, attempt, run and agent-call outcomes. A nil
// *EngineMetrics is valid and records nothing.
//
//	metrics, err := observability.NewEngineMetrics(observability.Meter("agentflow"))
package observability
