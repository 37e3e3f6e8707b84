package runner

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/conveyci/convey/pkg/models"
	"github.com/conveyci/convey/pkg/observability"
)

// memorySink records run updates and log lines in memory.
type memorySink struct {
	mu         sync.Mutex
	states     []models.RunState
	stepCounts []int
	stepSnaps  [][]models.StepResult
	logs       []models.RunLog
}

func (m *memorySink) UpdateRun(run *models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, run.State)
	m.stepCounts = append(m.stepCounts, len(run.Steps))
	steps := make([]models.StepResult, len(run.Steps))
	copy(steps, run.Steps)
	m.stepSnaps = append(m.stepSnaps, steps)
	return nil
}

func (m *memorySink) AppendRunLog(_ string, entry models.RunLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func newTestRunner(t *testing.T, sink RunSink) (*Runner, *observability.MetricsRegistry) {
	t.Helper()
	metrics := observability.NewMetricsRegistry()
	r := New(NewExecutor(t.TempDir()), sink, metrics, nil)
	return r, metrics
}

func newRun() *models.RunRecord {
	return &models.RunRecord{
		ID:           "run-1",
		WorkflowName: "wf",
		JobName:      "job",
		Event:        models.Event{Type: models.EventPush, Branch: "main"},
		State:        models.RunQueued,
	}
}

func TestRunJob_AllStepsSucceed(t *testing.T) {
	sink := &memorySink{}
	r, metrics := newTestRunner(t, sink)

	job := models.Job{
		RunsOn: "ubuntu-latest",
		Steps: []models.Step{
			{Name: "one", Run: "echo one"},
			{Name: "two", Run: "echo two"},
		},
	}
	run := newRun()

	if err := r.RunJob(context.Background(), run, job); err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}

	if run.State != models.RunCompleted {
		t.Errorf("state: got %s, want Completed", run.State)
	}
	if run.RunsOn != "ubuntu-latest" {
		t.Errorf("runs-on not recorded: %q", run.RunsOn)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("step results: got %d, want 2", len(run.Steps))
	}
	if run.StartedAt == nil || run.CompletedAt == nil {
		t.Error("timestamps not recorded")
	}
	if got := metrics.Counter("runs.completed").Value(); got != 1 {
		t.Errorf("runs.completed: got %d", got)
	}
}

func TestRunJob_FailingStepStopsWalk(t *testing.T) {
	sink := &memorySink{}
	r, metrics := newTestRunner(t, sink)

	job := models.Job{Steps: []models.Step{
		{Name: "ok", Run: "echo fine"},
		{Name: "gate", Run: "exit 2"},
		{Name: "unreached", Run: "echo never"},
	}}
	run := newRun()

	err := r.RunJob(context.Background(), run, job)
	if err == nil {
		t.Fatal("RunJob should fail")
	}
	if run.State != models.RunFailed {
		t.Errorf("state: got %s, want Failed", run.State)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("walk should stop at the failing step, got %d results", len(run.Steps))
	}
	if run.Steps[1].ExitCode != 2 {
		t.Errorf("failing step exit code: got %d, want 2", run.Steps[1].ExitCode)
	}
	if !strings.Contains(run.Error, "gate") {
		t.Errorf("run error should name the step: %q", run.Error)
	}
	if got := metrics.Counter("runs.failed").Value(); got != 1 {
		t.Errorf("runs.failed: got %d", got)
	}
}

func TestRunJob_ContinueOnErrorSuppressesFailure(t *testing.T) {
	sink := &memorySink{}
	r, metrics := newTestRunner(t, sink)

	job := models.Job{Steps: []models.Step{
		{Name: "lint", Run: "echo clean"},
		{Name: "tests", Run: "exit 1", ContinueOnError: true},
		{Name: "after", Run: "echo still here"},
	}}
	run := newRun()

	if err := r.RunJob(context.Background(), run, job); err != nil {
		t.Fatalf("suppressed failure must not fail the run: %v", err)
	}

	if run.State != models.RunCompleted {
		t.Errorf("state: got %s, want Completed", run.State)
	}
	if len(run.Steps) != 3 {
		t.Fatalf("all steps should run, got %d results", len(run.Steps))
	}

	tests := run.Steps[1]
	if tests.ExitCode != 1 {
		t.Errorf("test step exit code: got %d, want 1", tests.ExitCode)
	}
	if !tests.Suppressed {
		t.Error("test step failure should be recorded as suppressed")
	}
	if run.Error != "" {
		t.Errorf("run error should stay empty: %q", run.Error)
	}
	if got := metrics.Counter("steps.suppressed").Value(); got != 1 {
		t.Errorf("steps.suppressed: got %d", got)
	}
	if got := metrics.Counter("runs.failed").Value(); got != 0 {
		t.Errorf("runs.failed: got %d, want 0", got)
	}
}

func TestRunJob_JobAndStepEnv(t *testing.T) {
	r, _ := newTestRunner(t, nil)

	job := models.Job{
		Env: map[string]string{"LEVEL": "job", "SHARED": "job"},
		Steps: []models.Step{
			{
				Name: "env",
				Run:  `echo "LEVEL=$LEVEL SHARED=$SHARED"`,
				Env:  map[string]string{"LEVEL": "step"},
			},
		},
	}
	run := newRun()

	if err := r.RunJob(context.Background(), run, job); err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}
	out := run.Steps[0].Output
	if !strings.Contains(out, "LEVEL=step") {
		t.Errorf("step env should override job env: %q", out)
	}
	if !strings.Contains(out, "SHARED=job") {
		t.Errorf("job env should be visible: %q", out)
	}
}

func TestRunJob_ActionStep(t *testing.T) {
	sink := &memorySink{}
	r, _ := newTestRunner(t, sink)

	job := models.Job{Steps: []models.Step{
		{Uses: "actions/checkout@v4"},
		{Name: "after checkout", Run: "echo done"},
	}}
	run := newRun()

	if err := r.RunJob(context.Background(), run, job); err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}
	if run.Steps[0].Uses != "actions/checkout@v4" {
		t.Errorf("action reference not recorded: %q", run.Steps[0].Uses)
	}
	if run.Steps[0].Output == "" {
		t.Error("checkout should report the working directory")
	}
}

func TestRunJob_PersistsStatesAndLogs(t *testing.T) {
	sink := &memorySink{}
	r, _ := newTestRunner(t, sink)

	job := models.Job{Steps: []models.Step{{Name: "only", Run: "echo hi"}}}
	run := newRun()

	if err := r.RunJob(context.Background(), run, job); err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()

	if len(sink.states) == 0 || sink.states[0] != models.RunRunning {
		t.Errorf("first persisted state should be Running: %v", sink.states)
	}
	if sink.states[len(sink.states)-1] != models.RunCompleted {
		t.Errorf("last persisted state should be Completed: %v", sink.states)
	}
	if len(sink.logs) == 0 {
		t.Fatal("no log lines persisted")
	}
	if !strings.Contains(sink.logs[0].Message, "only") {
		t.Errorf("log should name the step: %q", sink.logs[0].Message)
	}
}

func TestRunJob_StepResultsReachSinkIncrementally(t *testing.T) {
	sink := &memorySink{}
	r, _ := newTestRunner(t, sink)

	job := models.Job{Steps: []models.Step{
		{Name: "one", Run: "echo one"},
		{Name: "two", Run: "exit 1", ContinueOnError: true},
		{Name: "three", Run: "echo three"},
	}}
	run := newRun()

	if err := r.RunJob(context.Background(), run, job); err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()

	// Each step must be visible to the sink as soon as it completes, so
	// a caller can stream results: the persisted step counts grow one at
	// a time instead of jumping straight to the final total.
	for _, want := range []int{0, 1, 2, 3} {
		found := false
		for _, got := range sink.stepCounts {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("no update with %d step result(s); counts: %v", want, sink.stepCounts)
		}
	}

	// The suppressed flag is already set when the result first reaches
	// the sink, so streamed output labels the step correctly.
	for _, snap := range sink.stepSnaps {
		if len(snap) == 2 {
			if !snap[1].Suppressed {
				t.Error("suppressed flag missing from the first persisted snapshot of the step")
			}
			break
		}
	}
}

func TestRunJob_NilSink(t *testing.T) {
	r, _ := newTestRunner(t, nil)

	run := newRun()
	job := models.Job{Steps: []models.Step{{Run: "echo hi"}}}
	if err := r.RunJob(context.Background(), run, job); err != nil {
		t.Fatalf("RunJob with nil sink failed: %v", err)
	}
	if run.State != models.RunCompleted {
		t.Errorf("state: got %s", run.State)
	}
}
