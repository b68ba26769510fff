package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kbukum/agentflow/agent"
	"github.com/kbukum/agentflow/dag"
	"github.com/kbukum/agentflow/database"
	"github.com/kbukum/agentflow/database/testutil"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/scheduler"
	"github.com/kbukum/agentflow/taskgraph"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (s *recordingSink) sink() scheduler.Sink {
	return func(name string, data map[string]any) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, name)
		s.data = append(s.data, data)
	}
}

func (s *recordingSink) find(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.events {
		if n == name {
			return s.data[i]
		}
	}
	return nil
}

type job struct {
	db   *database.DB
	ctx  JobContext
	ids  map[string]uuid.UUID
	sink *recordingSink
}

func newJob(t *testing.T, w *dag.Workflow) *job {
	t.Helper()
	db := testutil.NewDB(t, taskgraph.Models()...)
	jobID := uuid.New()
	ids, err := dag.NewBuilder(db, logger.Nop()).Build(context.Background(), jobID, w)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return &job{
		db: db,
		ctx: JobContext{
			JobID:          jobID,
			UserID:         "user-1",
			TargetID:       "site-1",
			UserMessage:    "add a contact form",
			Prompt:         "system prompt",
			DetectedSkills: []string{"react"},
		},
		ids:  ids,
		sink: &recordingSink{},
	}
}

func (j *job) runner(exec agent.Executor) *Runner {
	return New(j.db, logger.Nop(), exec, j.ctx, WithSink(j.sink.sink()))
}

// start moves a task to running the way a claim would and returns it.
func (j *job) start(t *testing.T, key string) *taskgraph.Task {
	t.Helper()
	err := j.db.GormDB.Model(&taskgraph.Task{}).Where("id = ?", j.ids[key]).Updates(map[string]any{
		"status":        taskgraph.StatusRunning,
		"attempt_count": gorm.Expr("attempt_count + 1"),
	}).Error
	if err != nil {
		t.Fatal(err)
	}
	return j.task(t, key)
}

func (j *job) task(t *testing.T, key string) *taskgraph.Task {
	t.Helper()
	var task taskgraph.Task
	if err := j.db.GormDB.First(&task, "id = ?", j.ids[key]).Error; err != nil {
		t.Fatal(err)
	}
	return &task
}

func (j *job) succeed(t *testing.T, key string, output map[string]any) {
	t.Helper()
	err := j.db.GormDB.Model(&taskgraph.Task{}).Where("id = ?", j.ids[key]).Updates(map[string]any{
		"status": taskgraph.StatusSucceeded,
		"output": datatypes.JSONMap(output),
	}).Error
	if err != nil {
		t.Fatal(err)
	}
}

func (j *job) countEvents(t *testing.T, typ taskgraph.EventType) int64 {
	t.Helper()
	var n int64
	j.db.GormDB.Model(&taskgraph.Event{}).Where("job_id = ? AND type = ?", j.ctx.JobID, typ).Count(&n)
	return n
}

func returning(out agent.Payload, err error) agent.ExecutorFunc {
	return func(context.Context, agent.Role, string, agent.Payload) (agent.Payload, error) {
		return out, err
	}
}

func single(key string, role agent.Role, maxAttempts int) *dag.Workflow {
	return &dag.Workflow{Tasks: []dag.TaskDef{{Key: key, Role: role, MaxAttempts: maxAttempts}}}
}

func TestExecute_AccumulatedInput(t *testing.T) {
	j := newJob(t, dag.DefaultWorkflow())
	j.succeed(t, dag.KeyIntent, map[string]any{"intent": "edit"})
	j.succeed(t, dag.KeyPlan, map[string]any{"steps": []any{"a"}})
	task := j.start(t, dag.KeyCodegen)

	var gotRole agent.Role
	var got agent.Payload
	exec := agent.ExecutorFunc(func(_ context.Context, role agent.Role, _ string, in agent.Payload) (agent.Payload, error) {
		gotRole, got = role, in
		return agent.Payload{"files": []any{}}, nil
	})
	if _, err := j.runner(exec).Execute(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	if gotRole != agent.RoleBuilder {
		t.Errorf("role = %s, want builder", gotRole)
	}
	if got["userMessage"] != "add a contact form" || got["prompt"] != "system prompt" {
		t.Errorf("job context missing: %v", got)
	}
	if skills, _ := got["detectedSkills"].([]string); len(skills) != 1 {
		t.Errorf("detectedSkills = %v", got["detectedSkills"])
	}
	upstream, _ := got["upstream"].(map[string]any)
	plan, _ := upstream[dag.KeyPlan].(map[string]any)
	if plan == nil || plan["steps"] == nil {
		t.Errorf("plan output missing from upstream: %v", upstream)
	}
	if _, ok := upstream[dag.KeyIntent]; ok {
		t.Error("only direct predecessors belong in upstream")
	}
}

func TestExecute_Success(t *testing.T) {
	j := newJob(t, single(dag.KeyCodegen, agent.RoleBuilder, 1))
	task := j.start(t, dag.KeyCodegen)

	out := agent.Payload{
		"files": []any{
			map[string]any{"path": "index.html", "content": "<html></html>"},
			map[string]any{"path": "src/App.tsx", "content": "export default 1"},
		},
		"_meta":  map[string]any{"tokens_in": float64(100), "tokens_out": float64(50), "cost_usd": 0.01},
		"_debug": "x",
	}
	outcome, err := j.runner(returning(out, nil)).Execute(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Retrying {
		t.Error("unexpected retry")
	}
	if _, ok := outcome.Output["_meta"]; ok {
		t.Error("internal keys must be stripped from the output")
	}

	stored := j.task(t, dag.KeyCodegen)
	if stored.Status != taskgraph.StatusSucceeded || stored.FinishedAt == nil {
		t.Errorf("task not finalized: %+v", stored)
	}
	if _, ok := stored.Output["_debug"]; ok {
		t.Error("stored output still carries internal keys")
	}

	var attempts []taskgraph.Attempt
	j.db.GormDB.Where("task_id = ?", task.ID).Find(&attempts)
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	a := attempts[0]
	if a.Status != taskgraph.AttemptSucceeded || a.Number != 1 || a.TokensIn == nil || *a.TokensIn != 100 || a.CostUSD == nil {
		t.Errorf("unexpected attempt %+v", a)
	}

	var artifacts []taskgraph.Artifact
	j.db.GormDB.Where("task_id = ? AND kind = ?", task.ID, taskgraph.ArtifactCode).Find(&artifacts)
	if len(artifacts) != 2 {
		t.Errorf("expected one code artifact per file, got %d", len(artifacts))
	}

	if j.countEvents(t, taskgraph.EventTaskStarted) != 1 || j.countEvents(t, taskgraph.EventTaskCompleted) != 1 {
		t.Error("expected task_started and task_completed events")
	}
	if j.sink.find(scheduler.EventTaskStarted) == nil || j.sink.find(scheduler.EventTaskDone) == nil {
		t.Errorf("sink events = %v", j.sink.events)
	}
}

func TestExecute_RetryThenFail(t *testing.T) {
	j := newJob(t, single(dag.KeyAsset, agent.RoleAsset, 2))
	r := j.runner(returning(nil, errors.New("image service down")))
	ctx := context.Background()

	outcome, err := r.Execute(ctx, j.start(t, dag.KeyAsset))
	if err != nil {
		t.Fatalf("first attempt should requeue, got %v", err)
	}
	if !outcome.Retrying {
		t.Fatal("expected Retrying")
	}
	if got := j.task(t, dag.KeyAsset).Status; got != taskgraph.StatusReady {
		t.Errorf("status = %s, want ready", got)
	}
	if j.sink.find(scheduler.EventTaskRetry) == nil {
		t.Error("expected taskRetry")
	}

	_, err = r.Execute(ctx, j.start(t, dag.KeyAsset))
	var failed *scheduler.TaskFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected TaskFailedError, got %v", err)
	}
	if failed.Attempts != 2 || failed.TaskKey != dag.KeyAsset {
		t.Errorf("unexpected error %+v", failed)
	}
	stored := j.task(t, dag.KeyAsset)
	if stored.Status != taskgraph.StatusFailed || stored.ErrorCode != taskgraph.CodeAgentError {
		t.Errorf("status=%s code=%s", stored.Status, stored.ErrorCode)
	}
	if j.countEvents(t, taskgraph.EventTaskAttemptFailed) != 1 || j.countEvents(t, taskgraph.EventTaskFailed) != 1 {
		t.Error("expected one task_attempt_failed and one task_failed event")
	}

	var failedAttempts int64
	j.db.GormDB.Model(&taskgraph.Attempt{}).Where("task_id = ? AND status = ?", stored.ID, taskgraph.AttemptFailed).Count(&failedAttempts)
	if failedAttempts != 2 {
		t.Errorf("expected 2 failed attempts, got %d", failedAttempts)
	}
}

func TestExecute_CanceledContextDoesNotRetry(t *testing.T) {
	j := newJob(t, single(dag.KeyPlan, agent.RolePlanner, 3))
	task := j.start(t, dag.KeyPlan)

	ctx, cancel := context.WithCancel(context.Background())
	exec := agent.ExecutorFunc(func(ctx context.Context, _ agent.Role, _ string, _ agent.Payload) (agent.Payload, error) {
		cancel()
		return nil, ctx.Err()
	})

	_, err := j.runner(exec).Execute(ctx, task)
	var failed *scheduler.TaskFailedError
	if !errors.As(err, &failed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected terminal failure wrapping context.Canceled, got %v", err)
	}
	if got := j.task(t, dag.KeyPlan).Status; got != taskgraph.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

func TestExecute_ChatIntentSkipsPipeline(t *testing.T) {
	j := newJob(t, dag.DefaultWorkflow())
	calls := 0
	exec := agent.ExecutorFunc(func(context.Context, agent.Role, string, agent.Payload) (agent.Payload, error) {
		calls++
		return agent.Payload{"intent": "chat", "message": "hello there"}, nil
	})

	if _, err := j.runner(exec).Execute(context.Background(), j.start(t, dag.KeyIntent)); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("agent called %d times, want 1", calls)
	}
	for _, key := range []string{dag.KeyPlan, dag.KeyCodegen, dag.KeyAsset, dag.KeyQAReview, dag.KeyFix, dag.KeyPublishPrep} {
		if got := j.task(t, key).Status; got != taskgraph.StatusSkipped {
			t.Errorf("%s: status %s, want skipped", key, got)
		}
	}
	if n := j.countEvents(t, taskgraph.EventTaskSkipped); n != 6 {
		t.Errorf("expected 6 task_skipped events, got %d", n)
	}
	data := j.sink.find(scheduler.EventTasksSkipped)
	if data == nil || data["reason"] != ReasonChatIntent {
		t.Fatalf("tasksSkipped = %v", data)
	}
	if keys, _ := data["taskKeys"].([]string); len(keys) != 6 {
		t.Errorf("taskKeys = %v", data["taskKeys"])
	}
}

func TestExecute_QAPassSkipsOnlyFix(t *testing.T) {
	tests := []struct {
		name     string
		issues   any
		fixWant  taskgraph.TaskStatus
		prepWant taskgraph.TaskStatus
	}{
		{"no issues", float64(0), taskgraph.StatusSkipped, taskgraph.StatusReady},
		{"int zero", 0, taskgraph.StatusSkipped, taskgraph.StatusReady},
		{"two issues", float64(2), taskgraph.StatusReady, taskgraph.StatusPending},
		{"missing count", nil, taskgraph.StatusReady, taskgraph.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := newJob(t, dag.DefaultWorkflow())
			for _, key := range []string{dag.KeyIntent, dag.KeyPlan, dag.KeyCodegen, dag.KeyAsset} {
				j.succeed(t, key, map[string]any{})
			}
			out := agent.Payload{"findings": []any{}}
			if tt.issues != nil {
				out["issues"] = tt.issues
			}
			if _, err := j.runner(returning(out, nil)).Execute(context.Background(), j.start(t, dag.KeyQAReview)); err != nil {
				t.Fatal(err)
			}
			if got := j.task(t, dag.KeyFix).Status; got != tt.fixWant {
				t.Errorf("fix status = %s, want %s", got, tt.fixWant)
			}
			if got := j.task(t, dag.KeyPublishPrep).Status; got != tt.prepWant {
				t.Errorf("publish_prep status = %s, want %s", got, tt.prepWant)
			}
		})
	}
}

func TestIsConversational(t *testing.T) {
	tests := []struct {
		out  map[string]any
		want bool
	}{
		{map[string]any{"intent": "chat"}, true},
		{map[string]any{"intent": "question"}, true},
		{map[string]any{"intent": "edit"}, false},
		{map[string]any{}, false},
		{map[string]any{"intent": 3}, false},
	}
	for _, tt := range tests {
		if got := IsConversational(tt.out); got != tt.want {
			t.Errorf("IsConversational(%v) = %v, want %v", tt.out, got, tt.want)
		}
	}
}

func TestExecute_SuccessPromotesSuccessors(t *testing.T) {
	j := newJob(t, dag.DefaultWorkflow())
	out := agent.Payload{"intent": "edit"}
	if _, err := j.runner(returning(out, nil)).Execute(context.Background(), j.start(t, dag.KeyIntent)); err != nil {
		t.Fatal(err)
	}
	if got := j.task(t, dag.KeyPlan).Status; got != taskgraph.StatusReady {
		t.Errorf("plan status = %s, want ready", got)
	}
	if got := j.task(t, dag.KeyCodegen).Status; got != taskgraph.StatusPending {
		t.Errorf("codegen status = %s, want pending", got)
	}
}

func TestExecute_TerminalFailureCancelsDownstream(t *testing.T) {
	w := &dag.Workflow{
		Tasks: []dag.TaskDef{
			{Key: "a", Role: agent.RolePlanner, MaxAttempts: 1},
			{Key: "b", Role: agent.RoleBuilder},
			{Key: "c", Role: agent.RolePublisher},
		},
		Edges: []dag.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	}
	j := newJob(t, w)

	_, err := j.runner(returning(nil, errors.New("planner down"))).Execute(context.Background(), j.start(t, "a"))
	var failed *scheduler.TaskFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected TaskFailedError, got %v", err)
	}
	for _, key := range []string{"b", "c"} {
		task := j.task(t, key)
		if task.Status != taskgraph.StatusCanceled || task.ErrorCode != taskgraph.CodeUpstreamFailed {
			t.Errorf("%s: status=%s code=%s", key, task.Status, task.ErrorCode)
		}
	}
}

// pipelineAgent answers every role of the default workflow.
func pipelineAgent(intent string, calls *[]string, mu *sync.Mutex) agent.ExecutorFunc {
	return func(_ context.Context, _ agent.Role, key string, _ agent.Payload) (agent.Payload, error) {
		mu.Lock()
		*calls = append(*calls, key)
		mu.Unlock()
		switch key {
		case dag.KeyIntent:
			return agent.Payload{"intent": intent, "message": "hi"}, nil
		case dag.KeyQAReview:
			return agent.Payload{"issues": 2, "findings": []any{"a", "b"}}, nil
		}
		return agent.Payload{}, nil
	}
}

func runPipeline(t *testing.T, intent string, rules []SkipRule) ([]string, map[string]taskgraph.TaskStatus, error) {
	t.Helper()
	j := newJob(t, dag.DefaultWorkflow())
	var mu sync.Mutex
	var calls []string
	r := New(j.db, logger.Nop(), pipelineAgent(intent, &calls, &mu), j.ctx, WithSkipRules(rules))
	sched := scheduler.New(j.db, logger.Nop(), scheduler.Config{Workers: 3, PollInterval: time.Millisecond})
	err := sched.RunWorkflow(context.Background(), j.ctx.JobID, r)

	statuses := make(map[string]taskgraph.TaskStatus, len(j.ids))
	for key := range j.ids {
		statuses[key] = j.task(t, key).Status
	}
	return calls, statuses, err
}

func TestRunWorkflow_EditPipelineCompletes(t *testing.T) {
	for i := 0; i < 50; i++ {
		calls, statuses, err := runPipeline(t, "edit", DefaultSkipRules())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		for key, status := range statuses {
			if status != taskgraph.StatusSucceeded {
				t.Fatalf("run %d: %s ended %s", i, key, status)
			}
		}
		if len(calls) != 7 {
			t.Fatalf("run %d: calls = %v", i, calls)
		}
	}
}

func TestRunWorkflow_ChatIntentRunsNothingDownstream(t *testing.T) {
	rules := DefaultSkipRules()
	slow := rules[0].When
	rules[0].When = func(out map[string]any) bool {
		time.Sleep(5 * time.Millisecond)
		return slow(out)
	}
	for i := 0; i < 50; i++ {
		calls, statuses, err := runPipeline(t, "chat", rules)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(calls) != 1 || calls[0] != dag.KeyIntent {
			t.Fatalf("run %d: calls = %v, want only intent", i, calls)
		}
		for key, status := range statuses {
			if key != dag.KeyIntent && status != taskgraph.StatusSkipped {
				t.Fatalf("run %d: %s ended %s, want skipped", i, key, status)
			}
		}
	}
}
