// Package dispatch fans repository events out to workflow runs: it
// matches an event against every stored workflow, queues one run per
// matching job, and executes queued runs on a bounded worker pool.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/conveyci/convey/pkg/models"
	"github.com/conveyci/convey/pkg/observability"
	"github.com/conveyci/convey/pkg/runner"
	"github.com/conveyci/convey/pkg/store"
	"github.com/conveyci/convey/pkg/workflow"
)

type Dispatcher struct {
	store   store.Store
	runner  *runner.Runner
	metrics *observability.MetricsRegistry
	log     *slog.Logger

	queue chan string // run IDs
	stop  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func New(st store.Store, run *runner.Runner, metrics *observability.MetricsRegistry, log *slog.Logger, queueSize int) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		store:   st,
		runner:  run,
		metrics: metrics,
		log:     log.With("component", "dispatch"),
		queue:   make(chan string, queueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker pool. Workers exit when Stop is called or
// the context is canceled.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Stop closes the intake and waits for in-flight and already-queued
// runs to finish. The queue channel itself is never closed: blocked
// senders abort through the stop signal instead.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.stop)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Dispatch evaluates the event against every stored workflow and creates
// one Queued run per matching (workflow, job), in deterministic order.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) ([]*models.RunRecord, error) {
	workflows, err := d.store.ListWorkflows()
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	var created []*models.RunRecord
	for _, wf := range workflows {
		if !workflow.Matches(wf, ev) {
			continue
		}
		for _, jobName := range sortedJobNames(wf.Jobs) {
			run := &models.RunRecord{
				WorkflowName: wf.Name,
				JobName:      jobName,
				Event:        ev,
				State:        models.RunQueued,
			}
			if err := d.store.CreateRun(run); err != nil {
				return created, fmt.Errorf("create run for %s/%s: %w", wf.Name, jobName, err)
			}
			if err := d.enqueue(ctx, run); err != nil {
				return created, err
			}
			created = append(created, run)
		}
	}

	d.log.Info("event dispatched",
		"event", string(ev.Type), "branch", ev.Branch, "runs", len(created))
	return created, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, run *models.RunRecord) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher stopped")
	}
	d.mu.Unlock()

	select {
	case d.queue <- run.ID:
		d.metrics.Gauge("dispatch.queue_depth").Inc()
		return nil
	case <-d.stop:
		return fmt.Errorf("enqueue run %s: dispatcher stopped", run.ID)
	case <-ctx.Done():
		return fmt.Errorf("enqueue run %s: %w", run.ID, ctx.Err())
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case id := <-d.queue:
			d.metrics.Gauge("dispatch.queue_depth").Dec()
			d.execute(ctx, id)
		case <-d.stop:
			d.drainQueue(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainQueue finishes runs that were queued before intake closed.
func (d *Dispatcher) drainQueue(ctx context.Context) {
	for {
		select {
		case id := <-d.queue:
			d.metrics.Gauge("dispatch.queue_depth").Dec()
			d.execute(ctx, id)
		default:
			return
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, id string) {
	run, err := d.store.GetRun(id)
	if err != nil {
		d.log.Error("load queued run", "run", id, "error", err)
		return
	}

	wf, err := d.store.GetWorkflow(run.WorkflowName)
	if err != nil {
		d.failRun(run, fmt.Sprintf("workflow disappeared: %v", err))
		return
	}
	job, ok := wf.Jobs[run.JobName]
	if !ok {
		d.failRun(run, fmt.Sprintf("job %q no longer declared", run.JobName))
		return
	}

	// RunJob reports failures through the run record; nothing to do here.
	_ = d.runner.RunJob(ctx, run, job)
}

func (d *Dispatcher) failRun(run *models.RunRecord, msg string) {
	run.State = models.RunFailed
	run.Error = msg
	if err := d.store.UpdateRun(run); err != nil {
		d.log.Error("mark run failed", "run", run.ID, "error", err)
	}
}

func sortedJobNames(jobs map[string]models.Job) []string {
	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
