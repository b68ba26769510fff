package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kbukum/agentflow/taskgraph"
)

// PromoteReadyTasks moves every pending task whose predecessors have all
// succeeded or been skipped to ready. It is idempotent and safe to run
// from several workers at once.
func (s *Scheduler) PromoteReadyTasks(ctx context.Context, jobID uuid.UUID) (int64, error) {
	return Promote(s.db.WithContext(ctx), jobID)
}

// Promote is PromoteReadyTasks on tx. Executors call it in the transaction
// that finishes a task, so a succeeded task and its newly ready successors
// become visible together.
func Promote(tx *gorm.DB, jobID uuid.UUID) (int64, error) {
	unfinished := tx.Session(&gorm.Session{NewDB: true}).
		Table("job_task_dependencies AS d").
		Select("1").
		Joins("JOIN job_tasks AS p ON p.id = d.predecessor_id").
		Where("d.successor_id = job_tasks.id").
		Where("p.status NOT IN ?", []taskgraph.TaskStatus{taskgraph.StatusSucceeded, taskgraph.StatusSkipped})

	res := tx.Model(&taskgraph.Task{}).
		Where("job_id = ? AND status = ?", jobID, taskgraph.StatusPending).
		Where("NOT EXISTS (?)", unfinished).
		Updates(map[string]any{
			"status":     taskgraph.StatusReady,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("promote ready tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ClaimNextTask atomically moves the oldest ready task of the job to
// running. It returns (nil, nil) when nothing is claimable or another
// worker won the race.
func (s *Scheduler) ClaimNextTask(ctx context.Context, jobID uuid.UUID) (*taskgraph.Task, error) {
	var claimed *taskgraph.Task
	err := s.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		q := tx.Where("job_id = ? AND status = ?", jobID, taskgraph.StatusReady).
			Order("created_at ASC").
			Order("seq ASC")
		if s.db.IsPostgres() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var t taskgraph.Task
		if err := q.Take(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		now := time.Now().UTC()
		res := tx.Model(&taskgraph.Task{}).
			Where("id = ? AND status = ?", t.ID, taskgraph.StatusReady).
			Updates(map[string]any{
				"status":        taskgraph.StatusRunning,
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"started_at":    now,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		t.Status = taskgraph.StatusRunning
		t.AttemptCount++
		t.StartedAt = &now
		t.UpdatedAt = now
		claimed = &t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	return claimed, nil
}

// HasActiveTasks reports whether any task of the job is ready or running.
func (s *Scheduler) HasActiveTasks(ctx context.Context, jobID uuid.UUID) (bool, error) {
	n, err := countByStatus(s.db.WithContext(ctx), jobID, activeStatuses...)
	return n > 0, err
}

// CountStuckTasks counts pending or blocked tasks.
func (s *Scheduler) CountStuckTasks(ctx context.Context, jobID uuid.UUID) (int64, error) {
	return countByStatus(s.db.WithContext(ctx), jobID, stuckStatuses...)
}

var (
	activeStatuses = []taskgraph.TaskStatus{taskgraph.StatusReady, taskgraph.StatusRunning}
	stuckStatuses  = []taskgraph.TaskStatus{taskgraph.StatusPending, taskgraph.StatusBlocked}
)

func countByStatus(db *gorm.DB, jobID uuid.UUID, statuses ...taskgraph.TaskStatus) (int64, error) {
	var n int64
	err := db.Model(&taskgraph.Task{}).
		Where("job_id = ? AND status IN ?", jobID, statuses).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// snapshot counts active and stuck tasks from one consistent read.
func (s *Scheduler) snapshot(ctx context.Context, jobID uuid.UUID) (active, stuck int64, err error) {
	var opts []*sql.TxOptions
	if s.db.IsPostgres() {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if active, err = countByStatus(tx, jobID, activeStatuses...); err != nil {
			return err
		}
		stuck, err = countByStatus(tx, jobID, stuckStatuses...)
		return err
	}, opts...)
	return active, stuck, err
}

// MarkTaskStatus moves a task to status when the state machine allows it
// from the task's current status. It reports whether a row changed. In the
// same transaction a success promotes the job's ready successors and a
// terminal failure cancels everything downstream.
func (s *Scheduler) MarkTaskStatus(ctx context.Context, taskID uuid.UUID, status taskgraph.TaskStatus, code, message string) (bool, error) {
	from := sourcesOf(status)
	if len(from) == 0 {
		return false, fmt.Errorf("mark task: no transition leads to %s", status)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":        status,
		"error_code":    code,
		"error_message": message,
		"updated_at":    now,
	}
	if status.IsTerminal() {
		updates["finished_at"] = now
	}

	var changed bool
	err := s.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		var task taskgraph.Task
		if err := tx.Select("id", "job_id").Take(&task, "id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		res := tx.Model(&taskgraph.Task{}).
			Where("id = ? AND status IN ?", taskID, from).
			Updates(updates)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		changed = true

		switch {
		case status.IsSuccess():
			_, err := Promote(tx, task.JobID)
			return err
		case status == taskgraph.StatusFailed:
			_, err := CancelDownstream(tx, task.JobID, taskID)
			return err
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark task %s: %w", status, err)
	}
	return changed, nil
}

func sourcesOf(to taskgraph.TaskStatus) []taskgraph.TaskStatus {
	var from []taskgraph.TaskStatus
	for _, s := range []taskgraph.TaskStatus{
		taskgraph.StatusPending, taskgraph.StatusReady, taskgraph.StatusBlocked, taskgraph.StatusRunning,
	} {
		if taskgraph.CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// PropagateFailure cancels every task reachable from failedTaskID that has
// not started yet, with code upstream_failed, and records a task_canceled
// event for each. It returns the canceled task ids.
func (s *Scheduler) PropagateFailure(ctx context.Context, jobID, failedTaskID uuid.UUID) ([]uuid.UUID, error) {
	var canceled []uuid.UUID
	err := s.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		canceled, err = CancelDownstream(tx, jobID, failedTaskID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("propagate failure: %w", err)
	}
	return canceled, nil
}

// CancelDownstream is PropagateFailure on tx. Executors call it in the
// transaction that marks a task failed.
func CancelDownstream(tx *gorm.DB, jobID, failedTaskID uuid.UUID) ([]uuid.UUID, error) {
	var deps []taskgraph.Dependency
	if err := tx.Select("predecessor_id", "successor_id").
		Where("job_id = ?", jobID).
		Find(&deps).Error; err != nil {
		return nil, fmt.Errorf("load dependencies: %w", err)
	}

	successors := make(map[uuid.UUID][]uuid.UUID, len(deps))
	for _, d := range deps {
		successors[d.PredecessorID] = append(successors[d.PredecessorID], d.SuccessorID)
	}

	var canceled []uuid.UUID
	now := time.Now().UTC()
	for _, id := range reachableFrom(failedTaskID, successors) {
		res := tx.Model(&taskgraph.Task{}).
			Where("id = ? AND status IN ?", id, taskgraph.Cancelable).
			Updates(map[string]any{
				"status":        taskgraph.StatusCanceled,
				"error_code":    taskgraph.CodeUpstreamFailed,
				"error_message": "upstream task " + failedTaskID.String() + " failed",
				"updated_at":    now,
				"finished_at":   now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		taskID := id
		ev := &taskgraph.Event{
			JobID:  jobID,
			TaskID: &taskID,
			Type:   taskgraph.EventTaskCanceled,
			Data: datatypes.JSONMap{
				"reason":       taskgraph.CodeUpstreamFailed,
				"failedTaskId": failedTaskID.String(),
			},
			CreatedAt: now,
		}
		if err := tx.Create(ev).Error; err != nil {
			return nil, err
		}
		canceled = append(canceled, id)
	}
	return canceled, nil
}

// reachableFrom returns every node reachable from start in BFS order,
// excluding start itself.
func reachableFrom(start uuid.UUID, successors map[uuid.UUID][]uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]bool{start: true}
	queue := []uuid.UUID{start}
	var out []uuid.UUID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range successors[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out
}

// AbandonJob cancels every task of a failed run that never started, with
// code run_aborted, so no row is left claimable.
func (s *Scheduler) AbandonJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&taskgraph.Task{}).
		Where("job_id = ? AND status IN ?", jobID, taskgraph.Cancelable).
		Updates(map[string]any{
			"status":        taskgraph.StatusCanceled,
			"error_code":    taskgraph.CodeRunAborted,
			"error_message": "run aborted",
			"updated_at":    now,
			"finished_at":   now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("abandon job: %w", res.Error)
	}
	return res.RowsAffected, nil
}
