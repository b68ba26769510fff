package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/agentflow/database"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/taskgraph"
)

// Config controls the worker pool.
type Config struct {
	// Workers is the number of concurrent workers per job.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// PollInterval is how long an idle worker waits while other tasks run.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
}

// Scheduler runs task graphs stored in the database.
type Scheduler struct {
	db  *database.DB
	log *logger.Logger
	cfg Config
}

// New creates a Scheduler.
func New(db *database.DB, log *logger.Logger, cfg Config) *Scheduler {
	cfg.ApplyDefaults()
	return &Scheduler{db: db, log: log.WithComponent("scheduler"), cfg: cfg}
}

// RunWorkflow executes the job's graph with a fixed pool of workers and
// returns once no task can make progress. The first terminal error stops
// new claims in every worker; in-flight tasks finish, the remaining tasks
// are abandoned and the error is returned.
func (s *Scheduler) RunWorkflow(ctx context.Context, jobID uuid.UUID, exec TaskExecutor) error {
	log := s.log.WithJob(jobID.String())

	if _, err := s.PromoteReadyTasks(ctx, jobID); err != nil {
		return err
	}

	var halted atomic.Bool
	var g errgroup.Group
	for i := 0; i < s.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			err := s.runWorker(ctx, worker, jobID, exec, &halted)
			if err != nil {
				halted.Store(true)
			}
			return err
		})
	}

	err := g.Wait()
	if err == nil {
		log.Debug("workflow finished")
		return nil
	}

	n, abandonErr := s.AbandonJob(context.WithoutCancel(ctx), jobID)
	if abandonErr != nil {
		log.Error("failed to abandon job", logger.ErrorFields("abandon", abandonErr))
	} else if n > 0 {
		log.Info("abandoned remaining tasks", logger.Fields("count", n))
	}
	return err
}

func (s *Scheduler) runWorker(ctx context.Context, worker int, jobID uuid.UUID, exec TaskExecutor, halted *atomic.Bool) error {
	log := s.log.WithJob(jobID.String()).WithFields(logger.Fields(logger.FieldWorker, worker))

	for {
		if halted.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		task, err := s.ClaimNextTask(ctx, jobID)
		if err != nil {
			return err
		}
		if task != nil {
			if err := s.execute(ctx, log, jobID, task, exec); err != nil {
				return err
			}
			continue
		}

		// Every task transition commits together with the promotions and
		// cancellations it causes, so an idle worker can judge the graph
		// from one snapshot.
		promoted, err := s.PromoteReadyTasks(ctx, jobID)
		if err != nil {
			return err
		}
		if promoted > 0 {
			continue
		}
		active, stuck, err := s.snapshot(ctx, jobID)
		if err != nil {
			return err
		}
		switch {
		case active > 0:
			if err := sleep(ctx, s.cfg.PollInterval); err != nil {
				return err
			}
		case stuck > 0:
			log.Error("dag deadlock", logger.Fields("stuck", stuck))
			return &DeadlockError{JobID: jobID, Stuck: stuck}
		default:
			log.Debug("worker idle, exiting")
			return nil
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, log *logger.Logger, jobID uuid.UUID, task *taskgraph.Task, exec TaskExecutor) error {
	tlog := log.WithTask(task.ID.String(), task.TaskKey)
	tlog.Debug("task claimed", logger.Fields(logger.FieldAttempt, task.AttemptCount))

	out, err := exec.Execute(ctx, task)
	if err != nil {
		var failed *TaskFailedError
		if errors.As(err, &failed) {
			// Executors cancel downstream with the failure; this only
			// covers one that did not.
			if _, perr := s.PropagateFailure(context.WithoutCancel(ctx), jobID, task.ID); perr != nil {
				tlog.Error("failure propagation failed", logger.ErrorFields("propagate", perr))
			}
			tlog.Warn("task failed")
			return err
		}

		// Not a task outcome: keep the row from staying running forever.
		if _, merr := s.MarkTaskStatus(context.WithoutCancel(ctx), task.ID, taskgraph.StatusFailed, taskgraph.CodeAgentError, err.Error()); merr != nil {
			tlog.Error("failed to mark task failed", logger.ErrorFields("mark", merr))
		}
		return err
	}
	if !out.Retrying {
		tlog.Debug("task finished")
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
