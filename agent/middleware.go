package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/observability"
	"github.com/kbukum/agentflow/resilience"
)

// Middleware wraps an Executor with cross-cutting behavior.
type Middleware func(Executor) Executor

// Chain composes middlewares. The first one is outermost:
// Chain(a, b, c)(e) is equivalent to a(b(c(e))).
func Chain(middlewares ...Middleware) Middleware {
	return func(inner Executor) Executor {
		for i := len(middlewares) - 1; i >= 0; i-- {
			inner = middlewares[i](inner)
		}
		return inner
	}
}

// WithLogging logs each agent call with its role, task key and duration.
func WithLogging(log *logger.Logger) Middleware {
	return func(inner Executor) Executor {
		return &loggingExecutor{inner: inner, log: log.WithComponent("agent")}
	}
}

type loggingExecutor struct {
	inner Executor
	log   *logger.Logger
}

func (l *loggingExecutor) CallAgent(ctx context.Context, role Role, taskKey string, input Payload) (Payload, error) {
	start := time.Now()
	out, err := l.inner.CallAgent(ctx, role, taskKey, input)

	fields := logger.Fields(
		logger.FieldRole, string(role),
		logger.FieldTaskKey, taskKey,
		logger.FieldDuration, time.Since(start).Milliseconds(),
	)
	if err != nil {
		fields[logger.FieldError] = err.Error()
		l.log.WithContext(ctx).Warn("agent call failed", fields)
	} else {
		l.log.WithContext(ctx).Debug("agent call ok", fields)
	}
	return out, err
}

// WithTracing wraps each call in an agent_call span.
func WithTracing() Middleware {
	return func(inner Executor) Executor {
		return &tracingExecutor{inner: inner}
	}
}

type tracingExecutor struct {
	inner Executor
}

func (t *tracingExecutor) CallAgent(ctx context.Context, role Role, taskKey string, input Payload) (Payload, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanAgentCall,
		trace.WithAttributes(
			attribute.String(observability.AttrRole, string(role)),
			attribute.String(observability.AttrTaskKey, taskKey),
		),
	)
	out, err := t.inner.CallAgent(ctx, role, taskKey, input)
	observability.EndSpan(span, err)
	return out, err
}

// WithMetrics records call counts and latency per role. A nil metrics value
// makes the middleware a pass-through recorder.
func WithMetrics(m *observability.EngineMetrics) Middleware {
	return func(inner Executor) Executor {
		return &metricsExecutor{inner: inner, metrics: m}
	}
}

type metricsExecutor struct {
	inner   Executor
	metrics *observability.EngineMetrics
}

func (m *metricsExecutor) CallAgent(ctx context.Context, role Role, taskKey string, input Payload) (Payload, error) {
	start := time.Now()
	out, err := m.inner.CallAgent(ctx, role, taskKey, input)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordAgentCall(ctx, string(role), status, time.Since(start))
	return out, err
}

// WithTimeout bounds each call. A deadline hit is reported as a retryable
// TIMEOUT error; cancellation of the parent context is passed through.
func WithTimeout(d time.Duration) Middleware {
	return func(inner Executor) Executor {
		if d <= 0 {
			return inner
		}
		return &timeoutExecutor{inner: inner, timeout: d}
	}
}

type timeoutExecutor struct {
	inner   Executor
	timeout time.Duration
}

func (t *timeoutExecutor) CallAgent(ctx context.Context, role Role, taskKey string, input Payload) (Payload, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.inner.CallAgent(callCtx, role, taskKey, input)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, apperrors.Timeout("agent call " + taskKey).WithCause(err)
	}
	return out, err
}

// WithCircuitBreaker keeps one breaker per role so a failing capability
// fails fast without affecting the others.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Middleware {
	return func(inner Executor) Executor {
		return &breakerExecutor{inner: inner, cfg: cfg, breakers: map[Role]*resilience.CircuitBreaker{}}
	}
}

type breakerExecutor struct {
	inner Executor
	cfg   resilience.CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[Role]*resilience.CircuitBreaker
}

func (b *breakerExecutor) breaker(role Role) *resilience.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[role]
	if !ok {
		cfg := b.cfg
		cfg.Name = b.cfg.Name + ":" + string(role)
		cb = resilience.NewCircuitBreaker(cfg)
		b.breakers[role] = cb
	}
	return cb
}

func (b *breakerExecutor) CallAgent(ctx context.Context, role Role, taskKey string, input Payload) (Payload, error) {
	var out Payload
	err := b.breaker(role).Execute(func() error {
		var callErr error
		out, callErr = b.inner.CallAgent(ctx, role, taskKey, input)
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, apperrors.ExternalServiceError(string(role), err)
	}
	return out, err
}

// WithConcurrencyLimit caps in-flight calls per role. Calls wait up to
// maxWait for a slot.
func WithConcurrencyLimit(maxConcurrent int, maxWait time.Duration) Middleware {
	return func(inner Executor) Executor {
		if maxConcurrent <= 0 {
			return inner
		}
		return &bulkheadExecutor{
			inner:    inner,
			max:      maxConcurrent,
			wait:     maxWait,
			bulkhead: map[Role]*resilience.Bulkhead{},
		}
	}
}

type bulkheadExecutor struct {
	inner Executor
	max   int
	wait  time.Duration

	mu       sync.Mutex
	bulkhead map[Role]*resilience.Bulkhead
}

func (b *bulkheadExecutor) slot(role Role) *resilience.Bulkhead {
	b.mu.Lock()
	defer b.mu.Unlock()
	bh, ok := b.bulkhead[role]
	if !ok {
		bh = resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "agent:" + string(role),
			MaxConcurrent: b.max,
			MaxWait:       b.wait,
		})
		b.bulkhead[role] = bh
	}
	return bh
}

func (b *bulkheadExecutor) CallAgent(ctx context.Context, role Role, taskKey string, input Payload) (Payload, error) {
	return resilience.ExecuteWithResult(b.slot(role), ctx, func() (Payload, error) {
		return b.inner.CallAgent(ctx, role, taskKey, input)
	})
}

// WithRecovery turns a panic inside the wrapped executor into an
// INTERNAL_ERROR for that call.
func WithRecovery() Middleware {
	return func(inner Executor) Executor {
		return ExecutorFunc(func(ctx context.Context, role Role, taskKey string, input Payload) (out Payload, err error) {
			defer func() {
				if r := recover(); r != nil {
					out = nil
					err = apperrors.Internal(fmt.Errorf("agent %s panicked on %s: %v", role, taskKey, r))
				}
			}()
			return inner.CallAgent(ctx, role, taskKey, input)
		})
	}
}
