package dag

import (
	"fmt"

	"github.com/kbukum/agentflow/agent"
)

// Task keys of the default content pipeline.
const (
	KeyIntent      = "intent"
	KeyPlan        = "plan"
	KeyCodegen     = "codegen"
	KeyAsset       = "asset"
	KeyQAReview    = "qa_review"
	KeyFix         = "fix"
	KeyPublishPrep = "publish_prep"
)

// TaskDef declares one task of a workflow.
type TaskDef struct {
	// Key is unique within the workflow.
	Key string `yaml:"key"`
	// Role selects the agent capability.
	Role agent.Role `yaml:"role"`
	// Weight is a relative progress weight for callers.
	Weight int `yaml:"weight,omitempty"`
	// Label is a human-readable name.
	Label string `yaml:"label,omitempty"`
	// MaxAttempts is the retry budget. Zero means 1.
	MaxAttempts int `yaml:"max_attempts,omitempty"`
	// Input is merged into the accumulated agent input.
	Input map[string]any `yaml:"input,omitempty"`
	// DependsOn lists predecessor keys. LoadWorkflow turns them into Edges.
	DependsOn []string `yaml:"depends_on,omitempty"`
}

// Edge is a dependency: To runs after From.
type Edge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Workflow is a static task graph definition.
type Workflow struct {
	Name  string    `yaml:"name"`
	Tasks []TaskDef `yaml:"tasks"`
	Edges []Edge    `yaml:"edges,omitempty"`
}

// DefaultWorkflow returns the content pipeline:
// intent -> plan -> {codegen, asset} -> qa_review -> fix -> publish_prep.
func DefaultWorkflow() *Workflow {
	return &Workflow{
		Name: "content",
		Tasks: []TaskDef{
			{Key: KeyIntent, Role: agent.RolePlanner, Weight: 5, Label: "Detect intent", MaxAttempts: 2},
			{Key: KeyPlan, Role: agent.RolePlanner, Weight: 10, Label: "Plan changes", MaxAttempts: 2},
			{Key: KeyCodegen, Role: agent.RoleBuilder, Weight: 35, Label: "Generate code", MaxAttempts: 2},
			{Key: KeyAsset, Role: agent.RoleAsset, Weight: 15, Label: "Generate assets", MaxAttempts: 2},
			{Key: KeyQAReview, Role: agent.RoleQA, Weight: 10, Label: "Review quality", MaxAttempts: 1},
			{Key: KeyFix, Role: agent.RoleBuilder, Weight: 15, Label: "Fix issues", MaxAttempts: 2},
			{Key: KeyPublishPrep, Role: agent.RolePublisher, Weight: 10, Label: "Prepare publish", MaxAttempts: 1},
		},
		Edges: []Edge{
			{From: KeyIntent, To: KeyPlan},
			{From: KeyPlan, To: KeyCodegen},
			{From: KeyPlan, To: KeyAsset},
			{From: KeyCodegen, To: KeyQAReview},
			{From: KeyAsset, To: KeyQAReview},
			{From: KeyQAReview, To: KeyFix},
			{From: KeyFix, To: KeyPublishPrep},
		},
	}
}

// Keys returns task keys in definition order.
func (w *Workflow) Keys() []string {
	keys := make([]string, len(w.Tasks))
	for i, t := range w.Tasks {
		keys[i] = t.Key
	}
	return keys
}

// Task returns the definition for key.
func (w *Workflow) Task(key string) (TaskDef, bool) {
	for _, t := range w.Tasks {
		if t.Key == key {
			return t, true
		}
	}
	return TaskDef{}, false
}

// Validate checks keys, roles, edges and acyclicity.
func (w *Workflow) Validate() error {
	if len(w.Tasks) == 0 {
		return fmt.Errorf("dag: workflow %q has no tasks", w.Name)
	}
	seen := make(map[string]bool, len(w.Tasks))
	for _, t := range w.Tasks {
		if t.Key == "" {
			return fmt.Errorf("dag: workflow %q has a task without a key", w.Name)
		}
		if seen[t.Key] {
			return fmt.Errorf("dag: duplicate task key %q", t.Key)
		}
		seen[t.Key] = true
		if _, err := agent.ParseRole(string(t.Role)); err != nil {
			return fmt.Errorf("dag: task %q: %w", t.Key, err)
		}
		if t.MaxAttempts < 0 {
			return fmt.Errorf("dag: task %q: max_attempts must be >= 0", t.Key)
		}
	}
	_, err := Levels(w)
	return err
}
