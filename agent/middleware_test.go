package agent

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/resilience"
)

func okExecutor() Executor {
	return ExecutorFunc(func(context.Context, Role, string, Payload) (Payload, error) {
		return Payload{"ok": true}, nil
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(inner Executor) Executor {
			return ExecutorFunc(func(ctx context.Context, r Role, k string, in Payload) (Payload, error) {
				order = append(order, name)
				return inner.CallAgent(ctx, r, k, in)
			})
		}
	}
	exec := Chain(mark("a"), mark("b"), mark("c"))(okExecutor())
	if _, err := exec.CallAgent(context.Background(), RolePlanner, "plan", nil); err != nil {
		t.Fatal(err)
	}
	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("order = %v, want a,b,c", order)
	}
}

func TestWithLogging(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&logger.Config{Level: "debug", Format: "json"}, "test", &buf)
	failing := ExecutorFunc(func(context.Context, Role, string, Payload) (Payload, error) {
		return nil, errors.New("boom")
	})

	_, err := WithLogging(log)(failing).CallAgent(context.Background(), RoleBuilder, "codegen", nil)
	if err == nil {
		t.Fatal("expected error to pass through")
	}
	out := buf.String()
	for _, want := range []string{`"role":"builder"`, `"task_key":"codegen"`, "agent call failed", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestWithTimeout(t *testing.T) {
	slow := ExecutorFunc(func(ctx context.Context, _ Role, _ string, _ Payload) (Payload, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := WithTimeout(20*time.Millisecond)(slow).CallAgent(context.Background(), RoleAsset, "asset", nil)
	if apperrors.CodeOf(err) != apperrors.ErrCodeTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WithTimeout(time.Second)(slow).CallAgent(ctx, RoleAsset, "asset", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected parent cancellation to pass through, got %v", err)
	}
}

func TestWithCircuitBreakerPerRole(t *testing.T) {
	var calls atomic.Int32
	flaky := ExecutorFunc(func(_ context.Context, role Role, _ string, _ Payload) (Payload, error) {
		calls.Add(1)
		if role == RoleAsset {
			return nil, errors.New("image service down")
		}
		return Payload{}, nil
	})
	cfg := resilience.DefaultCircuitBreakerConfig("agent")
	cfg.MaxFailures = 2
	cfg.Timeout = time.Hour
	exec := WithCircuitBreaker(cfg)(flaky)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = exec.CallAgent(ctx, RoleAsset, "asset", nil)
	}
	before := calls.Load()
	_, err := exec.CallAgent(ctx, RoleAsset, "asset", nil)
	if apperrors.CodeOf(err) != apperrors.ErrCodeExternalService {
		t.Fatalf("expected open breaker error, got %v", err)
	}
	if calls.Load() != before {
		t.Error("open breaker should not reach the executor")
	}

	if _, err := exec.CallAgent(ctx, RoleBuilder, "codegen", nil); err != nil {
		t.Errorf("other roles should be unaffected, got %v", err)
	}
}

func TestWithConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	blocking := ExecutorFunc(func(context.Context, Role, string, Payload) (Payload, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return Payload{}, nil
	})
	exec := WithConcurrencyLimit(1, time.Second)(blocking)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = exec.CallAgent(context.Background(), RoleBuilder, "codegen", nil)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}

func TestWithMetricsNil(t *testing.T) {
	out, err := WithMetrics(nil)(okExecutor()).CallAgent(context.Background(), RoleQA, "qa_review", nil)
	if err != nil || out["ok"] != true {
		t.Errorf("unexpected result %v, %v", out, err)
	}
}

func TestWithRecovery(t *testing.T) {
	exec := WithRecovery()(ExecutorFunc(func(context.Context, Role, string, Payload) (Payload, error) {
		panic("nil map write")
	}))
	out, err := exec.CallAgent(context.Background(), RoleBuilder, "codegen", nil)
	if out != nil {
		t.Errorf("expected nil output, got %v", out)
	}
	if apperrors.CodeOf(err) != apperrors.ErrCodeInternal {
		t.Fatalf("expected INTERNAL_ERROR, got %v", err)
	}
	if !strings.Contains(err.Error(), "codegen") {
		t.Errorf("error should name the task: %v", err)
	}
}
