package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kbukum/agentflow/agent"
	"github.com/kbukum/agentflow/dag"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/scheduler"
	"github.com/kbukum/agentflow/taskgraph"
)

// Skip reasons.
const (
	ReasonChatIntent = "chat_intent"
	ReasonQAPassed   = "qa_passed"
)

// SkipRule skips tasks when the output of the task named by Key matches.
type SkipRule struct {
	Key    string
	Reason string
	When   func(output map[string]any) bool
	Skip   []string
}

// DefaultSkipRules returns the content pipeline rules: a non-edit intent
// skips everything after intent, and a clean QA review skips fix.
func DefaultSkipRules() []SkipRule {
	return []SkipRule{
		{
			Key:    dag.KeyIntent,
			Reason: ReasonChatIntent,
			When:   IsConversational,
			Skip:   []string{dag.KeyPlan, dag.KeyCodegen, dag.KeyAsset, dag.KeyQAReview, dag.KeyFix, dag.KeyPublishPrep},
		},
		{
			Key:    dag.KeyQAReview,
			Reason: ReasonQAPassed,
			When:   HasNoIssues,
			Skip:   []string{dag.KeyFix},
		},
	}
}

// IsConversational reports whether an intent output names an intent other
// than "edit". A missing intent is treated as an edit.
func IsConversational(output map[string]any) bool {
	intent, ok := output["intent"].(string)
	return ok && intent != "" && intent != "edit"
}

// HasNoIssues reports whether a QA output has a numeric issue count of zero.
func HasNoIssues(output map[string]any) bool {
	n, ok := agent.Number(output["issues"])
	return ok && n == 0
}

// skipped is the result of one matched rule.
type skipped struct {
	reason string
	keys   []string
}

// applySkipRules runs on the transaction that marks the task named key
// succeeded, so the skipped tasks can never be promoted first.
func (r *Runner) applySkipRules(tx *gorm.DB, key string, output map[string]any) ([]skipped, error) {
	var out []skipped
	for _, rule := range r.rules {
		if rule.Key != key || !rule.When(output) {
			continue
		}
		keys, err := r.skip(tx, rule.Skip, rule.Reason)
		if err != nil {
			return nil, fmt.Errorf("apply skip rule %s: %w", rule.Reason, err)
		}
		if len(keys) > 0 {
			out = append(out, skipped{reason: rule.Reason, keys: keys})
		}
	}
	return out, nil
}

// reportSkipped emits what applySkipRules did once it has committed.
func (r *Runner) reportSkipped(ctx context.Context, log *logger.Logger, results []skipped) {
	for _, s := range results {
		r.metrics.RecordSkipped(ctx, s.reason, len(s.keys))
		r.sink.Emit(scheduler.EventTasksSkipped, map[string]any{
			"jobId":    r.job.JobID.String(),
			"taskKeys": s.keys,
			"reason":   s.reason,
		})
		log.Info("tasks skipped", logger.Fields("reason", s.reason, "skipped", s.keys))
	}
}

// skip moves the named tasks of the job to skipped when they have not
// started, recording a task_skipped event for each. It returns the keys
// that were skipped.
func (r *Runner) skip(tx *gorm.DB, keys []string, reason string) ([]string, error) {
	var candidates []taskgraph.Task
	if err := tx.Select("id", "task_key").
		Where("job_id = ? AND task_key IN ? AND status IN ?", r.job.JobID, keys, taskgraph.Cancelable).
		Order("seq").
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	var out []string
	now := time.Now().UTC()
	for _, c := range candidates {
		res := tx.Model(&taskgraph.Task{}).
			Where("id = ? AND status IN ?", c.ID, taskgraph.Cancelable).
			Updates(map[string]any{
				"status":        taskgraph.StatusSkipped,
				"error_message": reason,
				"finished_at":   now,
				"updated_at":    now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		if err := tx.Create(r.skipEvent(c.ID, reason)).Error; err != nil {
			return nil, err
		}
		out = append(out, c.TaskKey)
	}
	return out, nil
}

func (r *Runner) skipEvent(taskID uuid.UUID, reason string) *taskgraph.Event {
	return r.event(taskID, taskgraph.EventTaskSkipped, map[string]any{"reason": reason})
}
