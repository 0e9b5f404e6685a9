package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/taskrouterx/taskrouterx/internal/platform/logger"
	"github.com/taskrouterx/taskrouterx/internal/platform/metrics"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/policy"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/queue"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// runnerState is the Runner's own state machine: stopped -> running ->
// stopping -> stopped.
type runnerState int32

const (
	runnerStopped runnerState = iota
	runnerRunning
	runnerStopping
)

// RunnerConfig tunes the dispatch loop.
type RunnerConfig struct {
	PollInterval     time.Duration
	RequeueBackoff   time.Duration
	DefaultAlgorithm policy.Strategy
	// MaxConcurrentExecutions bounds the number of in-flight executor
	// goroutines. The server sets it to pool count x executor pool
	// factor x 4; NewRunner defaults it to 32 when unset.
	MaxConcurrentExecutions int
}

// Counters mirrors the runner's local stats.
type Counters struct {
	TasksScheduled int64
	TasksProcessed int64
	TasksFailed    int64
}

// Runner owns the single dispatch loop: dequeue, consult policy, commit
// dispatch, hand off to the executor, requeue on refusal.
type Runner struct {
	q     *queue.Queue
	tasks repository.TaskRepository
	pools repository.WorkerPoolRepository
	exec  *Executor
	log   logger.Logger
	events EventPublisher

	cfg RunnerConfig

	algorithm atomic.Value // policy.Strategy

	state atomic.Int32

	scheduled atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}

	execSem chan struct{}
	execWG  sync.WaitGroup

	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// SetMetrics attaches a Prometheus metrics sink. Optional; nil keeps the
// runner working with metrics disabled.
func (r *Runner) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// SetTracer attaches an OpenTelemetry tracer. Optional; nil keeps the
// runner working with tracing disabled.
func (r *Runner) SetTracer(t trace.Tracer) {
	r.tracer = t
}

func (r *Runner) tracerOrNoop() trace.Tracer {
	if r.tracer != nil {
		return r.tracer
	}
	return noop.NewTracerProvider().Tracer("taskrouter")
}

// NewRunner constructs a Runner.
func NewRunner(q *queue.Queue, tasks repository.TaskRepository, pools repository.WorkerPoolRepository, exec *Executor, cfg RunnerConfig, log logger.Logger, events EventPublisher) *Runner {
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = 32
	}
	r := &Runner{
		q:       q,
		tasks:   tasks,
		pools:   pools,
		exec:    exec,
		log:     log,
		events:  events,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		execSem: make(chan struct{}, cfg.MaxConcurrentExecutions),
	}
	r.algorithm.Store(cfg.DefaultAlgorithm)
	r.state.Store(int32(runnerStopped))
	return r
}

// Algorithm returns the currently active policy strategy.
func (r *Runner) Algorithm() policy.Strategy {
	return r.algorithm.Load().(policy.Strategy)
}

// SetAlgorithm atomically swaps the policy strategy for subsequent
// selections. In-flight work keeps the algorithm it was dispatched under.
func (r *Runner) SetAlgorithm(s policy.Strategy) error {
	if !s.Valid() {
		return fmt.Errorf("unknown algorithm %q", s)
	}
	r.algorithm.Store(s)
	r.log.Info("scheduler algorithm changed", "algorithm", s)
	return nil
}

// Counters returns a snapshot of the runner's local counters.
func (r *Runner) Counters() Counters {
	return Counters{
		TasksScheduled: r.scheduled.Load(),
		TasksProcessed: r.processed.Load(),
		TasksFailed:    r.failed.Load(),
	}
}

// IsRunning reports whether the dispatch loop is currently active.
func (r *Runner) IsRunning() bool {
	return runnerState(r.state.Load()) == runnerRunning
}

// Start launches exactly one dispatch loop. Idempotent no-op if already
// running.
func (r *Runner) Start(ctx context.Context) {
	if !r.state.CompareAndSwap(int32(runnerStopped), int32(runnerRunning)) {
		r.log.Warn("runner already running")
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.loop(ctx)
	r.log.Info("runner started", "algorithm", r.Algorithm(), "poll_interval", r.cfg.PollInterval)
}

// Stop flips the state and joins the loop within a bounded grace period.
// Outstanding executor jobs are allowed to finish within the grace
// window, then abandoned.
func (r *Runner) Stop(grace time.Duration) {
	if !r.state.CompareAndSwap(int32(runnerRunning), int32(runnerStopping)) {
		return
	}
	close(r.stopCh)

	select {
	case <-r.doneCh:
	case <-time.After(grace):
		r.log.Warn("runner dispatch loop did not stop within grace period")
	}

	waitCh := make(chan struct{})
	go func() {
		r.execWG.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(grace):
		r.log.Warn("abandoning outstanding executor jobs after grace period")
	}

	r.state.Store(int32(runnerStopped))
	r.log.Info("runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		taskID, ok := r.q.Dequeue(r.cfg.PollInterval)
		if !ok {
			continue
		}
		r.dispatchOne(ctx, taskID)
	}
}

func (r *Runner) dispatchOne(ctx context.Context, taskID model.TaskID) {
	ctx, span := r.tracerOrNoop().Start(ctx, "taskrouter.runner.dispatch",
		trace.WithAttributes(attribute.String("taskrouter.task_id", taskID.String())))
	defer span.End()

	task, err := r.tasks.FindByID(ctx, taskID)
	if err != nil {
		if err == repository.ErrTaskNotFound {
			r.log.Warn("dropping unknown task from queue", "task_id", taskID)
			return
		}
		r.failed.Add(1)
		r.log.Error("store error loading task", "task_id", taskID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load task failed")
		return
	}
	if task.Status() != model.TaskStatusQueued {
		r.log.Warn("dropping non-queued task from queue", "task_id", taskID, "status", task.Status())
		return
	}

	pools, err := r.pools.Snapshot(ctx)
	if err != nil {
		r.failed.Add(1)
		r.log.Error("store error snapshotting pools", "task_id", taskID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot pools failed")
		return
	}

	algorithm := r.Algorithm()
	selected, ok := policy.Select(algorithm, task, pools)
	if !ok {
		r.log.Warn("no pool selectable, requeuing", "task_id", taskID)
		span.SetAttributes(attribute.Bool("taskrouter.requeued", true))
		if err := r.q.Enqueue(taskID); err != nil {
			r.log.Error("failed to requeue task", "task_id", taskID, "error", err)
		}
		time.Sleep(r.cfg.RequeueBackoff)
		return
	}

	span.SetAttributes(
		attribute.String("taskrouter.algorithm", string(algorithm)),
		attribute.String("taskrouter.pool", selected.Name),
	)

	logEntry := model.NewScheduleLog(taskID, model.EventScheduled, map[string]interface{}{
		"pool":          selected.Name,
		"algorithm":     string(algorithm),
		"region":        string(selected.Region),
		"cost_per_unit": selected.CostPerUnit,
	})

	if err := r.tasks.Dispatch(ctx, taskID, model.Algorithm(algorithm), logEntry); err != nil {
		r.failed.Add(1)
		r.log.Error("store error committing dispatch", "task_id", taskID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit dispatch failed")
		return
	}
	r.scheduled.Add(1)
	if r.metrics != nil {
		r.metrics.TasksScheduledTotal.WithLabelValues(string(algorithm)).Inc()
		r.metrics.PoolUtilization.WithLabelValues(selected.Name, string(selected.Region)).Set(selected.UtilizationPercent())
	}

	if r.events != nil {
		r.events.PublishTaskEvent(ctx, model.EventScheduled, task, logEntry.Details)
	}

	r.runExecution(taskID, selected.Name)
	r.processed.Add(1)
	if r.metrics != nil {
		r.metrics.TasksProcessedTotal.WithLabelValues(selected.Name).Inc()
		r.metrics.TaskQueueSize.Set(float64(r.q.Size()))
	}
}

// runExecution hands off to the Executor asynchronously; the runner does
// not wait for the result.
func (r *Runner) runExecution(taskID model.TaskID, poolName string) {
	r.execWG.Add(1)
	r.execSem <- struct{}{}
	go func() {
		defer r.execWG.Done()
		defer func() { <-r.execSem }()

		ctx := context.Background()
		_, err := r.exec.Execute(ctx, taskID, poolName)
		if err == repository.ErrPoolFull {
			r.log.Warn("claim lost race, requeuing", "task_id", taskID, "pool", poolName)
			if enqErr := r.q.Enqueue(taskID); enqErr != nil {
				r.log.Error("failed to requeue after claim refusal", "task_id", taskID, "error", enqErr)
			}
			time.Sleep(r.cfg.RequeueBackoff)
		}
	}()
}
