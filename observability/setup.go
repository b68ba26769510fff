package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/kbukum/agentflow/logger"
)

// Shutdown flushes and stops whatever Setup started.
type Shutdown func(context.Context) error

// Setup installs the global tracer and meter providers when cfg.Enabled and
// returns a Shutdown that flushes both. When disabled it installs nothing and
// the returned Shutdown is a no-op.
func Setup(ctx context.Context, cfg Config, svc Service, log *logger.Logger) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	tp, err := InitTracer(ctx, cfg, svc, log)
	if err != nil {
		return nil, err
	}
	mp, err := InitMeter(ctx, cfg, svc, log)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newResource(svc Service) (*resource.Resource, error) {
	// Schemaless, so the merge takes resource.Default's schema URL.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(svc.Name),
		semconv.ServiceVersion(svc.Version),
		attribute.String("environment", svc.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}
	return res, nil
}
