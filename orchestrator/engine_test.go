package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/agentflow/agent"
	"github.com/kbukum/agentflow/dag"
	"github.com/kbukum/agentflow/database"
	"github.com/kbukum/agentflow/database/testutil"
	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/scheduler"
	"github.com/kbukum/agentflow/staging"
	"github.com/kbukum/agentflow/taskgraph"
)

// fakeAgent answers each task key with a canned output and records the
// order of calls.
type fakeAgent struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]agent.Payload
	fail    map[string]error
	hook    func(ctx context.Context, taskKey string) error
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		outputs: map[string]agent.Payload{
			dag.KeyIntent:   {"intent": "edit"},
			dag.KeyPlan:     {"summary": "Plan: pricing page", "steps": []any{"layout", "copy"}},
			dag.KeyCodegen:  {"files": []any{map[string]any{"path": "index.html", "content": "v1"}}},
			dag.KeyAsset:    {"images": []any{map[string]any{"name": "hero.png"}}},
			dag.KeyQAReview: {"issues": 2, "findings": []any{"missing alt text", "low contrast"}},
			dag.KeyFix: {"files": []any{
				map[string]any{"path": "index.html", "content": "fixed"},
				map[string]any{"path": "style.css", "content": "body{}"},
			}},
			dag.KeyPublishPrep: {"summary": "Added a pricing page"},
		},
		fail: map[string]error{},
	}
}

func (f *fakeAgent) CallAgent(ctx context.Context, _ agent.Role, taskKey string, _ agent.Payload) (agent.Payload, error) {
	f.mu.Lock()
	f.calls = append(f.calls, taskKey)
	out, err, hook := f.outputs[taskKey], f.fail[taskKey], f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, taskKey); err != nil {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeAgent) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

type events struct {
	mu    sync.Mutex
	names []string
	data  map[string]map[string]any
}

func (e *events) sink() scheduler.Sink {
	return func(name string, data map[string]any) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.data == nil {
			e.data = map[string]map[string]any{}
		}
		e.names = append(e.names, name)
		e.data[name] = data
	}
}

func (e *events) get(name string) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data[name]
}

type fixture struct {
	db      *database.DB
	engine  *Engine
	agent   *fakeAgent
	staging *staging.Manager
	locker  *staging.FileLocker
	root    string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db := testutil.NewDB(t, taskgraph.Models()...)
	root := t.TempDir()
	locker := staging.NewFileLocker(filepath.Join(root, "locks"))
	stg := staging.NewManager(staging.Config{
		StagingRoot:    filepath.Join(root, "staging"),
		ProductionRoot: filepath.Join(root, "prod"),
	}, locker, logger.Nop())

	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = 5 * time.Millisecond
	}
	fa := newFakeAgent()
	e, err := New(db, logger.Nop(), fa, stg, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{db: db, engine: e, agent: fa, staging: stg, locker: locker, root: root}
}

func request(sink scheduler.Sink) RunRequest {
	return RunRequest{
		UserID:         "user-1",
		TargetID:       "site-1",
		UserMessage:    "add a pricing page",
		Prompt:         "you build websites",
		DetectedSkills: []string{"html"},
		OnEvent:        sink,
	}
}

func (f *fixture) jobRun(t *testing.T, id uuid.UUID) taskgraph.JobRun {
	t.Helper()
	var run taskgraph.JobRun
	if err := f.db.GormDB.First(&run, "id = ?", id).Error; err != nil {
		t.Fatalf("load job run: %v", err)
	}
	return run
}

func (f *fixture) statuses(t *testing.T, jobID uuid.UUID) map[string]taskgraph.TaskStatus {
	t.Helper()
	var tasks []taskgraph.Task
	if err := f.db.GormDB.Where("job_id = ?", jobID).Find(&tasks).Error; err != nil {
		t.Fatal(err)
	}
	out := map[string]taskgraph.TaskStatus{}
	for _, task := range tasks {
		out[task.TaskKey] = task.Status
	}
	return out
}

func (f *fixture) prodFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.staging.ProductionPath("user-1", "site-1"), name))
	return string(data), err
}

func (f *fixture) stagingEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.root, "staging"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	return entries
}

func before(calls []string, a, b string) bool {
	ia, ib := slices.Index(calls, a), slices.Index(calls, b)
	return ia >= 0 && ib >= 0 && ia < ib
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t, Config{})
	ev := &events{}

	res, err := f.engine.Run(context.Background(), request(ev.sink()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Chat || res.Result == nil {
		t.Fatalf("expected a published result, got %+v", res)
	}

	calls := f.agent.called()
	if len(calls) != 7 {
		t.Fatalf("expected 7 agent calls, got %v", calls)
	}
	for _, pair := range [][2]string{
		{dag.KeyIntent, dag.KeyPlan},
		{dag.KeyPlan, dag.KeyCodegen},
		{dag.KeyPlan, dag.KeyAsset},
		{dag.KeyCodegen, dag.KeyQAReview},
		{dag.KeyAsset, dag.KeyQAReview},
		{dag.KeyQAReview, dag.KeyFix},
		{dag.KeyFix, dag.KeyPublishPrep},
	} {
		if !before(calls, pair[0], pair[1]) {
			t.Errorf("%s should run before %s: %v", pair[0], pair[1], calls)
		}
	}

	if content, err := f.prodFile("index.html"); err != nil || content != "fixed" {
		t.Errorf("production index.html = %q, %v; want fix output", content, err)
	}
	if _, err := f.prodFile("style.css"); err != nil {
		t.Errorf("style.css not published: %v", err)
	}
	if entries := f.stagingEntries(t); len(entries) != 0 {
		t.Errorf("staging dir not cleaned: %v", entries)
	}

	run := f.jobRun(t, res.JobID)
	if run.Status != taskgraph.RunSucceeded || run.Mode != taskgraph.ModeNormal {
		t.Errorf("job run = %s/%s", run.Mode, run.Status)
	}
	if run.FinishedAt == nil || run.FallbackTriggered || run.EngineVersion == "" {
		t.Errorf("unexpected job run %+v", run)
	}
	for key, status := range f.statuses(t, res.JobID) {
		if status != taskgraph.StatusSucceeded {
			t.Errorf("task %s = %s", key, status)
		}
	}

	completed := ev.get(EventCompleted)
	if completed == nil || completed["summary"] != "Added a pricing page" {
		t.Fatalf("completed event = %v", completed)
	}
	if ev.get(scheduler.EventTaskDone) == nil || ev.get(scheduler.EventTaskStarted) == nil {
		t.Error("scheduler events were not forwarded")
	}
}

func TestRun_QAPassSkipsFix(t *testing.T) {
	f := newFixture(t, Config{})
	f.agent.outputs[dag.KeyQAReview] = agent.Payload{"issues": 0, "findings": []any{}}

	res, err := f.engine.Run(context.Background(), request(nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if slices.Contains(f.agent.called(), dag.KeyFix) {
		t.Error("fix must not run when QA found no issues")
	}
	st := f.statuses(t, res.JobID)
	if st[dag.KeyFix] != taskgraph.StatusSkipped || st[dag.KeyPublishPrep] != taskgraph.StatusSucceeded {
		t.Errorf("statuses = %v", st)
	}
	if content, _ := f.prodFile("index.html"); content != "v1" {
		t.Errorf("expected codegen output in production, got %q", content)
	}
}

func TestRun_ChatIntent(t *testing.T) {
	f := newFixture(t, Config{})
	f.agent.outputs[dag.KeyIntent] = agent.Payload{"intent": "chat", "message": "Hi! How can I help?"}
	ev := &events{}

	res, err := f.engine.Run(context.Background(), request(ev.sink()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Chat || res.Message != "Hi! How can I help?" || res.Result != nil {
		t.Errorf("unexpected result %+v", res)
	}
	if calls := f.agent.called(); len(calls) != 1 {
		t.Errorf("only intent should run, got %v", calls)
	}
	if chat := ev.get(EventChat); chat == nil || chat["message"] != "Hi! How can I help?" {
		t.Errorf("chat event = %v", chat)
	}
	if ev.get(EventCompleted) != nil {
		t.Error("chat runs must not fire completed")
	}
	if _, err := os.Stat(f.staging.ProductionPath("user-1", "site-1")); !os.IsNotExist(err) {
		t.Error("chat runs must not publish")
	}
	if run := f.jobRun(t, res.JobID); run.Status != taskgraph.RunSucceeded {
		t.Errorf("job run status = %s", run.Status)
	}
}

func TestRun_OutputInvalid(t *testing.T) {
	f := newFixture(t, Config{})
	f.agent.outputs[dag.KeyCodegen] = agent.Payload{"files": []any{map[string]any{"path": "style.css", "content": "x"}}}
	f.agent.outputs[dag.KeyQAReview] = agent.Payload{"issues": 0, "findings": []any{}}
	jobID := uuid.New()
	req := request(nil)
	req.JobID = jobID

	_, err := f.engine.Run(context.Background(), req)
	if apperrors.CodeOf(err) != apperrors.ErrCodeOutputInvalid {
		t.Fatalf("expected OUTPUT_INVALID, got %v", err)
	}
	run := f.jobRun(t, jobID)
	if run.Status != taskgraph.RunFailed || run.ErrorCode != string(apperrors.ErrCodeOutputInvalid) || !run.FallbackTriggered {
		t.Errorf("unexpected job run %+v", run)
	}
	if _, err := os.Stat(f.staging.ProductionPath("user-1", "site-1")); !os.IsNotExist(err) {
		t.Error("invalid output must not be published")
	}
}

func TestRun_TaskFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.agent.fail[dag.KeyQAReview] = errors.New("model overloaded")
	jobID := uuid.New()
	req := request(nil)
	req.JobID = jobID

	_, err := f.engine.Run(context.Background(), req)
	if apperrors.CodeOf(err) != apperrors.ErrCodeTaskFailed {
		t.Fatalf("expected TASK_FAILED, got %v", err)
	}
	var tf *scheduler.TaskFailedError
	if !errors.As(err, &tf) || tf.TaskKey != dag.KeyQAReview {
		t.Errorf("expected failure of qa_review, got %v", err)
	}

	st := f.statuses(t, jobID)
	if st[dag.KeyQAReview] != taskgraph.StatusFailed {
		t.Errorf("qa_review = %s", st[dag.KeyQAReview])
	}
	for _, key := range []string{dag.KeyFix, dag.KeyPublishPrep} {
		if st[key] != taskgraph.StatusCanceled {
			t.Errorf("%s = %s, want canceled", key, st[key])
		}
	}
	run := f.jobRun(t, jobID)
	if run.Status != taskgraph.RunFailed || run.ErrorCode != string(apperrors.ErrCodeTaskFailed) || !run.FallbackTriggered {
		t.Errorf("unexpected job run %+v", run)
	}
}

func TestRun_ConcurrentApply(t *testing.T) {
	f := newFixture(t, Config{})
	held, ok, err := f.locker.TryLock(context.Background(), "site-1")
	if err != nil || !ok {
		t.Fatalf("lock: %v, %v", ok, err)
	}
	defer held.Release()

	_, err = f.engine.Run(context.Background(), request(nil))
	if !errors.Is(err, staging.ErrConcurrentApply) {
		t.Fatalf("expected ErrConcurrentApply, got %v", err)
	}
	if entries := f.stagingEntries(t); len(entries) != 0 {
		t.Errorf("staging dir not cleaned after failure: %v", entries)
	}
}

func TestRun_RejectsInvalidRequest(t *testing.T) {
	f := newFixture(t, Config{})
	req := request(nil)
	req.TargetID = "../other"

	_, err := f.engine.Run(context.Background(), req)
	if apperrors.CodeOf(err) != apperrors.ErrCodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	var n int64
	f.db.GormDB.Model(&taskgraph.JobRun{}).Count(&n)
	if n != 0 {
		t.Errorf("no job run should be recorded, got %d", n)
	}
}

func TestRunShadow_Isolation(t *testing.T) {
	f := newFixture(t, Config{})
	req := request(func(name string, _ map[string]any) {
		t.Errorf("shadow run called the event sink with %q", name)
	})
	req.JobID = uuid.New()

	// a canceled caller context must not stop the shadow run
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := f.engine.RunShadow(ctx, req)
	if report.Status != taskgraph.RunSucceeded || report.Err != nil {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.JobID == req.JobID {
		t.Error("shadow runs must use a fresh job id")
	}
	if _, err := os.Stat(f.staging.ProductionPath("user-1", "site-1")); !os.IsNotExist(err) {
		t.Error("shadow run must not touch production")
	}
	if entries := f.stagingEntries(t); len(entries) != 0 {
		t.Errorf("shadow run must not stage files: %v", entries)
	}
	run := f.jobRun(t, report.JobID)
	if run.Mode != taskgraph.ModeShadow || run.Status != taskgraph.RunSucceeded {
		t.Errorf("job run = %s/%s", run.Mode, run.Status)
	}
}

func TestRunShadow_Timeout(t *testing.T) {
	f := newFixture(t, Config{ShadowTimeout: 50 * time.Millisecond})
	f.agent.hook = func(ctx context.Context, taskKey string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	report := f.engine.RunShadow(context.Background(), request(nil))
	if report.Status != taskgraph.RunFailed || report.ErrorCode != apperrors.ErrCodeTimeout {
		t.Fatalf("expected TIMEOUT, got %+v", report)
	}
	run := f.jobRun(t, report.JobID)
	if run.Status != taskgraph.RunFailed || run.ErrorCode != string(apperrors.ErrCodeTimeout) {
		t.Errorf("unexpected job run %+v", run)
	}
	if run.FallbackTriggered {
		t.Error("shadow failures must not trigger fallback")
	}
}

func TestRunShadow_AgentPanic(t *testing.T) {
	f := newFixture(t, Config{})
	f.agent.hook = func(_ context.Context, taskKey string) error {
		if taskKey == dag.KeyPlan {
			panic("boom")
		}
		return nil
	}

	report := f.engine.RunShadow(context.Background(), request(nil))
	if report.Status != taskgraph.RunFailed || report.Err == nil {
		t.Fatalf("expected a failed report, got %+v", report)
	}
	if run := f.jobRun(t, report.JobID); run.Status != taskgraph.RunFailed {
		t.Errorf("job run status = %s", run.Status)
	}
}

func TestRunShadow_InvalidRequest(t *testing.T) {
	f := newFixture(t, Config{})
	req := request(nil)
	req.UserID = ""

	report := f.engine.RunShadow(context.Background(), req)
	if report.Status != taskgraph.RunFailed || report.ErrorCode != apperrors.ErrCodeInvalidInput {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestStartShadow(t *testing.T) {
	f := newFixture(t, Config{})
	select {
	case report, ok := <-f.engine.StartShadow(context.Background(), request(nil)):
		if !ok || report.Status != taskgraph.RunSucceeded {
			t.Errorf("unexpected report %+v", report)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("shadow run did not finish")
	}
}

func TestNew_RejectsInvalidWorkflow(t *testing.T) {
	db := testutil.NewDB(t, taskgraph.Models()...)
	stg := staging.NewManager(staging.Config{StagingRoot: t.TempDir(), ProductionRoot: t.TempDir()}, staging.NewFileLocker(t.TempDir()), logger.Nop())
	w := &dag.Workflow{
		Name:  "loop",
		Tasks: []dag.TaskDef{{Key: "a", Role: agent.RolePlanner}, {Key: "b", Role: agent.RolePlanner}},
		Edges: []dag.Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	if _, err := New(db, logger.Nop(), newFakeAgent(), stg, Config{Workflow: w}); err == nil {
		t.Fatal("expected cycle error")
	}
	if _, err := New(db, logger.Nop(), nil, stg, Config{}); err == nil {
		t.Fatal("expected error for missing executor")
	}
}
