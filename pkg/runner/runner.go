// Package runner executes workflow jobs: an ordered walk over steps with
// fail-fast propagation and explicit continue-on-error suppression.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyci/convey/pkg/actions"
	"github.com/conveyci/convey/pkg/models"
	"github.com/conveyci/convey/pkg/observability"
)

// RunSink receives run state transitions and log lines. The SQLite store
// satisfies it; local CLI runs may pass nil to skip persistence.
type RunSink interface {
	UpdateRun(run *models.RunRecord) error
	AppendRunLog(id string, entry models.RunLog) error
}

const DefaultStepTimeout = 10 * time.Minute

// Runner executes one job of one workflow against an event.
type Runner struct {
	Exec        *Executor
	Sink        RunSink
	Metrics     *observability.MetricsRegistry
	Log         *slog.Logger
	StepTimeout time.Duration
}

func New(exec *Executor, sink RunSink, metrics *observability.MetricsRegistry, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}
	return &Runner{
		Exec:        exec,
		Sink:        sink,
		Metrics:     metrics,
		Log:         log.With("component", "runner"),
		StepTimeout: DefaultStepTimeout,
	}
}

// RunJob walks the job's steps in order, recording a StepResult per step
// on the run. Exit-code contract: a failing step fails the run and stops
// the walk, unless it is declared continue_on_error, in which case the
// failure is recorded as suppressed and the walk continues. The run
// conclusion never reflects suppressed failures.
func (r *Runner) RunJob(ctx context.Context, run *models.RunRecord, job models.Job) error {
	now := time.Now().UTC()
	run.State = models.RunRunning
	run.StartedAt = &now
	run.RunsOn = job.RunsOn
	r.persist(run)
	r.Metrics.Counter("runs.started").Inc()

	r.Log.Info("run started",
		"run", run.ID, "workflow", run.WorkflowName, "job", run.JobName,
		"event", string(run.Event.Type), "branch", run.Event.Branch)

	// Env exported by actions (setup-python etc.) accumulates across
	// the remaining steps of the job.
	exported := map[string]string{}

	for i, step := range job.Steps {
		result, err := r.runStep(ctx, run, i, step, job, exported)
		failed := err != nil || result.ExitCode != 0
		if failed && step.ContinueOnError {
			result.Suppressed = true
		}
		run.Steps = append(run.Steps, *result)
		r.persist(run)

		if !failed {
			continue
		}

		r.Metrics.Counter("steps.failed").Inc()
		if step.ContinueOnError {
			r.Metrics.Counter("steps.suppressed").Inc()
			r.logLine(run, i, "warn", fmt.Sprintf("step %q failed (exit %d), continuing", step.Label(), result.ExitCode))
			continue
		}

		return r.fail(run, i, step, result, err)
	}

	done := time.Now().UTC()
	run.State = models.RunCompleted
	run.CompletedAt = &done
	r.persist(run)
	r.Metrics.Counter("runs.completed").Inc()
	r.Log.Info("run completed", "run", run.ID, "steps", len(run.Steps))
	return nil
}

func (r *Runner) runStep(ctx context.Context, run *models.RunRecord, idx int, step models.Step, job models.Job, exported map[string]string) (*models.StepResult, error) {
	started := time.Now().UTC()
	result := &models.StepResult{
		Name:      step.Label(),
		Command:   step.Run,
		Uses:      step.Uses,
		StartedAt: started,
	}
	r.logLine(run, idx, "info", "step started: "+step.Label())
	r.Metrics.Counter("steps.executed").Inc()

	var err error
	if step.Uses != "" {
		err = r.runAction(ctx, run, step, exported, result)
	} else {
		err = r.runShell(ctx, step, job, exported, result)
	}

	done := time.Now().UTC()
	result.CompletedAt = &done
	r.Metrics.Histogram("step.duration_ms").Observe(float64(done.Sub(started).Milliseconds()))

	if err != nil {
		result.Error = err.Error()
		if result.ExitCode == 0 {
			result.ExitCode = 1
		}
	}
	return result, err
}

func (r *Runner) runAction(ctx context.Context, run *models.RunRecord, step models.Step, exported map[string]string, result *models.StepResult) error {
	fn, err := actions.Resolve(step.Uses)
	if err != nil {
		return err
	}
	res, err := fn(ctx, actions.Context{
		WorkDir: r.Exec.WorkDir,
		Event:   run.Event,
		With:    step.With,
	})
	if err != nil {
		return err
	}
	result.Output = res.Output
	for k, v := range res.Env {
		exported[k] = v
	}
	return nil
}

func (r *Runner) runShell(ctx context.Context, step models.Step, job models.Job, exported map[string]string, result *models.StepResult) error {
	env := map[string]string{}
	for k, v := range exported {
		env[k] = v
	}
	for k, v := range job.Env {
		env[k] = v
	}
	for k, v := range step.Env {
		env[k] = v
	}

	out, err := r.Exec.RunStep(ctx, step.Run, env, r.stepTimeout(step))
	if out != nil {
		result.Output = out.Output
		result.ExitCode = out.ExitCode
	}
	return err
}

func (r *Runner) stepTimeout(step models.Step) time.Duration {
	if step.Timeout == "" {
		return r.StepTimeout
	}
	d, err := time.ParseDuration(step.Timeout)
	if err != nil {
		// Validation rejects bad timeouts before a run is created.
		return r.StepTimeout
	}
	return d
}

func (r *Runner) fail(run *models.RunRecord, idx int, step models.Step, result *models.StepResult, err error) error {
	done := time.Now().UTC()
	run.State = models.RunFailed
	run.CompletedAt = &done
	if err != nil {
		run.Error = fmt.Sprintf("step %q: %v", step.Label(), err)
	} else {
		run.Error = fmt.Sprintf("step %q exited with code %d", step.Label(), result.ExitCode)
	}
	r.logLine(run, idx, "error", run.Error)
	r.persist(run)
	r.Metrics.Counter("runs.failed").Inc()
	r.Log.Warn("run failed", "run", run.ID, "error", run.Error)
	return fmt.Errorf("%s", run.Error)
}

func (r *Runner) persist(run *models.RunRecord) {
	if r.Sink == nil {
		return
	}
	if err := r.Sink.UpdateRun(run); err != nil {
		r.Log.Error("persist run", "run", run.ID, "error", err)
	}
}

func (r *Runner) logLine(run *models.RunRecord, step int, level, msg string) {
	if r.Sink == nil {
		return
	}
	entry := models.RunLog{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   msg,
		Step:      step,
	}
	if err := r.Sink.AppendRunLog(run.ID, entry); err != nil {
		r.Log.Error("append run log", "run", run.ID, "error", err)
	}
}
