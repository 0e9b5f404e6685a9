package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/taskrouterx/taskrouterx/internal/platform/logger"
	"github.com/taskrouterx/taskrouterx/internal/platform/metrics"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// ExecutorConfig tunes the simulated work phase.
type ExecutorConfig struct {
	FailureRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
}

// DefaultExecutorConfig returns the stock simulation parameters.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		FailureRate: 0.05,
		MinLatency:  100 * time.Millisecond,
		MaxLatency:  2 * time.Second,
	}
}

// EventPublisher is the narrow interface the Executor and Runner use to
// emit lifecycle events without depending on the Kafka adapter directly.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, eventType model.EventType, task *model.Task, details map[string]interface{})
}

// Executor models running one task on its chosen pool: claim capacity,
// sleep for a simulated latency, resolve success/failure, release
// capacity. Each phase commits to the store independently.
type Executor struct {
	tasks  repository.TaskRepository
	pools  repository.WorkerPoolRepository
	logs   repository.ScheduleLogRepository
	cfg    ExecutorConfig
	log    logger.Logger
	events EventPublisher
	rng    *rand.Rand

	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// SetMetrics attaches a Prometheus metrics sink. Optional; nil keeps the
// executor working with metrics disabled.
func (e *Executor) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetTracer attaches an OpenTelemetry tracer. Optional; nil keeps the
// executor working with tracing disabled.
func (e *Executor) SetTracer(t trace.Tracer) {
	e.tracer = t
}

// NewExecutor constructs an Executor.
func NewExecutor(tasks repository.TaskRepository, pools repository.WorkerPoolRepository, logs repository.ScheduleLogRepository, cfg ExecutorConfig, log logger.Logger, events EventPublisher) *Executor {
	return &Executor{
		tasks:  tasks,
		pools:  pools,
		logs:   logs,
		cfg:    cfg,
		log:    log,
		events: events,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute runs the full claim/work/release cycle for one task against the
// named pool. Returns (true, nil) on success, (false, nil) on a
// simulated failure, and (false, err) if the claim could not be made
// (pool full or either entity missing) — the caller (Runner) interprets
// a claim failure as a signal to requeue.
func (e *Executor) Execute(ctx context.Context, taskID model.TaskID, poolName string) (bool, error) {
	ctx, span := e.startSpan(ctx, "taskrouter.executor.execute", taskID, poolName)
	defer span.End()

	if err := e.claim(ctx, taskID, poolName); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return false, err
	}

	latencyRange := e.cfg.MaxLatency - e.cfg.MinLatency
	var latency time.Duration
	if latencyRange > 0 {
		latency = e.cfg.MinLatency + time.Duration(e.rng.Int63n(int64(latencyRange)))
	} else {
		latency = e.cfg.MinLatency
	}

	_, workSpan := e.tracerOrNoop().Start(ctx, "taskrouter.executor.work")
	workTimer := time.NewTimer(latency)
	select {
	case <-workTimer.C:
	case <-ctx.Done():
		// Work phase is intentionally non-cancellable; we still finish
		// the sleep, and the release phase below runs on a background
		// context so it always runs.
		<-workTimer.C
	}
	workSpan.End()

	success := e.rng.Float64() >= e.cfg.FailureRate

	// Released on a detached context (the work phase survives caller
	// cancellation), but still carrying the execute span so the release
	// child span stays nested under it.
	releaseCtx := trace.ContextWithSpan(context.Background(), span)
	if err := e.release(releaseCtx, taskID, poolName, success); err != nil {
		e.log.Error("executor release failed", "task_id", taskID, "pool", poolName, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return success, err
	}

	if e.metrics != nil {
		status := "completed"
		if !success {
			status = "failed"
			e.metrics.TasksFailedTotal.WithLabelValues(poolName).Inc()
		}
		e.metrics.TaskLatencySeconds.WithLabelValues(poolName, status).Observe(latency.Seconds())
	}

	span.SetAttributes(attribute.Bool("taskrouter.success", success))
	return success, nil
}

// startSpan begins the outer execute span, falling back to a no-op
// tracer if SetTracer was never called (e.g. unit tests).
func (e *Executor) startSpan(ctx context.Context, name string, taskID model.TaskID, poolName string) (context.Context, trace.Span) {
	return e.tracerOrNoop().Start(ctx, name, trace.WithAttributes(
		attribute.String("taskrouter.task_id", taskID.String()),
		attribute.String("taskrouter.pool", poolName),
	))
}

func (e *Executor) claim(ctx context.Context, taskID model.TaskID, poolName string) error {
	ctx, span := e.tracerOrNoop().Start(ctx, "taskrouter.executor.claim")
	defer span.End()

	if err := e.tasks.Claim(ctx, taskID, poolName); err != nil {
		if err == repository.ErrPoolFull {
			e.log.Info("pool full at claim, signalling requeue", "task_id", taskID, "pool", poolName)
		}
		span.RecordError(err)
		return err
	}
	e.log.Info("task claimed", "task_id", taskID, "pool", poolName)
	return nil
}

func (e *Executor) release(ctx context.Context, taskID model.TaskID, poolName string, success bool) error {
	ctx, span := e.tracerOrNoop().Start(ctx, "taskrouter.executor.release")
	defer span.End()

	eventType := model.EventCompleted
	if !success {
		eventType = model.EventFailed
	}
	logEntry := model.NewScheduleLog(taskID, eventType, map[string]interface{}{
		"pool": poolName,
	})

	if err := e.tasks.Release(ctx, taskID, poolName, success, logEntry); err != nil {
		span.RecordError(err)
		return fmt.Errorf("release task %s: %w", taskID, err)
	}

	if e.events != nil {
		if task, findErr := e.tasks.FindByID(ctx, taskID); findErr == nil {
			e.events.PublishTaskEvent(ctx, eventType, task, logEntry.Details)
		}
	}

	if success {
		e.log.Info("task completed", "task_id", taskID, "pool", poolName)
	} else {
		e.log.Warn("task failed", "task_id", taskID, "pool", poolName)
	}
	return nil
}

func (e *Executor) tracerOrNoop() trace.Tracer {
	if e.tracer != nil {
		return e.tracer
	}
	return noop.NewTracerProvider().Tracer("taskrouter")
}
