package dag

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kbukum/agentflow/database"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/taskgraph"
)

// Builder persists workflows as task graphs.
type Builder struct {
	db  *database.DB
	log *logger.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(db *database.DB, log *logger.Logger) *Builder {
	return &Builder{db: db, log: log.WithComponent("dag")}
}

// Build inserts one task per definition and one dependency per edge for
// jobID, all in one transaction. Tasks without predecessors start ready,
// the rest pending. It returns the task id of every key.
func (b *Builder) Build(ctx context.Context, jobID uuid.UUID, w *Workflow) (map[string]uuid.UUID, error) {
	preds := Predecessors(w)
	now := time.Now().UTC()

	tasks := make([]*taskgraph.Task, 0, len(w.Tasks))
	ids := make(map[string]uuid.UUID, len(w.Tasks))
	for i, def := range w.Tasks {
		if _, dup := ids[def.Key]; dup {
			return nil, fmt.Errorf("dag: duplicate task key %q", def.Key)
		}
		status := taskgraph.StatusPending
		if len(preds[def.Key]) == 0 {
			status = taskgraph.StatusReady
		}
		maxAttempts := def.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 1
		}
		t := &taskgraph.Task{
			ID:          uuid.New(),
			JobID:       jobID,
			TaskKey:     def.Key,
			Role:        string(def.Role),
			Status:      status,
			Label:       def.Label,
			Weight:      def.Weight,
			MaxAttempts: maxAttempts,
			Seq:         i,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if len(def.Input) > 0 {
			t.Input = datatypes.JSONMap(maps.Clone(def.Input))
		}
		tasks = append(tasks, t)
		ids[def.Key] = t.ID
	}

	deps := make([]*taskgraph.Dependency, 0, len(w.Edges))
	for _, e := range w.Edges {
		from, ok := ids[e.From]
		if !ok {
			return nil, fmt.Errorf("dag: edge references unknown task %q", e.From)
		}
		to, ok := ids[e.To]
		if !ok {
			return nil, fmt.Errorf("dag: edge references unknown task %q", e.To)
		}
		deps = append(deps, &taskgraph.Dependency{JobID: jobID, PredecessorID: from, SuccessorID: to})
	}

	err := b.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&tasks).Error; err != nil {
			return fmt.Errorf("dag: inserting tasks: %w", err)
		}
		if len(deps) == 0 {
			return nil
		}
		if err := tx.Create(&deps).Error; err != nil {
			return fmt.Errorf("dag: inserting dependencies: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.log.Debug("task graph built", logger.Fields(
		logger.FieldJobID, jobID.String(),
		"tasks", len(tasks),
		"edges", len(deps),
	))
	return ids, nil
}
