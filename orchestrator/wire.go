package orchestrator

import (
	"fmt"

	"github.com/kbukum/agentflow/agent"
	"github.com/kbukum/agentflow/config"
	"github.com/kbukum/agentflow/dag"
	"github.com/kbukum/agentflow/database"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/observability"
	"github.com/kbukum/agentflow/resilience"
	"github.com/kbukum/agentflow/scheduler"
	"github.com/kbukum/agentflow/staging"
)

// NewLocker returns the target locker named by cfg.LockBackend.
func NewLocker(cfg config.EngineConfig, db *database.DB) (staging.Locker, error) {
	switch cfg.LockBackend {
	case config.LockBackendPostgres:
		if !db.IsPostgres() {
			return nil, fmt.Errorf("lock backend %q needs a postgres database", cfg.LockBackend)
		}
		return staging.NewPostgresLocker(db), nil
	case config.LockBackendFile, "":
		return staging.NewFileLocker(cfg.LockDir), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}

// WrapExecutor applies the configured agent middleware to exec. Logging is
// outermost and the per-call timeout innermost, so the logged duration
// includes time spent waiting for a concurrency slot.
func WrapExecutor(exec agent.Executor, cfg config.AgentConfig, log *logger.Logger, metrics *observability.EngineMetrics) agent.Executor {
	mws := []agent.Middleware{
		agent.WithLogging(log),
		agent.WithTracing(),
		agent.WithMetrics(metrics),
	}
	if cfg.BreakerFailures > 0 {
		breaker := resilience.DefaultCircuitBreakerConfig("agent")
		breaker.MaxFailures = cfg.BreakerFailures
		breaker.Timeout = cfg.BreakerCooldown
		breaker.OnStateChange = func(name string, from, to resilience.State) {
			log.Warn("agent circuit breaker changed state", logger.Fields("breaker", name, "from", from.String(), "to", to.String()))
		}
		mws = append(mws, agent.WithCircuitBreaker(breaker))
	}
	mws = append(mws,
		agent.WithConcurrencyLimit(cfg.MaxConcurrent, cfg.ConcurrencyWait),
		agent.WithTimeout(cfg.Timeout),
	)
	return agent.Chain(mws...)(exec)
}

// FromConfig assembles an Engine from the loaded configuration.
func FromConfig(cfg *config.Config, db *database.DB, exec agent.Executor, log *logger.Logger, metrics *observability.EngineMetrics) (*Engine, error) {
	workflow := dag.DefaultWorkflow()
	if cfg.Engine.WorkflowFile != "" {
		w, err := dag.LoadWorkflow(cfg.Engine.WorkflowFile)
		if err != nil {
			return nil, err
		}
		workflow = w
	}

	locker, err := NewLocker(cfg.Engine, db)
	if err != nil {
		return nil, err
	}
	stg := staging.NewManager(staging.Config{
		StagingRoot:    cfg.Engine.StagingRoot,
		ProductionRoot: cfg.Engine.ProductionRoot,
		MaxFileSize:    cfg.Engine.MaxFileSize,
	}, locker, log)

	return New(db, log, WrapExecutor(exec, cfg.Agent, log, metrics), stg, Config{
		Scheduler: scheduler.Config{
			Workers:      cfg.Engine.Workers,
			PollInterval: cfg.Engine.PollInterval,
		},
		ShadowTimeout: cfg.Engine.ShadowTimeout,
		Workflow:      workflow,
	}, WithMetrics(metrics))
}
