package service

import (
	"context"
	"fmt"

	"github.com/taskrouterx/taskrouterx/internal/platform/logger"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/queue"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// SubmitRequest carries the caller-supplied fields for a new task.
type SubmitRequest struct {
	TaskType model.TaskType
	Priority int
	Cost     float64
	Region   model.Region
	Metadata map[string]interface{}
}

// Admission validates and admits new tasks: construct the aggregate,
// persist it queued, append a created log, then enqueue its id. Each of
// the three phases has a distinct failure mode:
// validation errors never touch the store, store errors never enqueue,
// and a full queue leaves a persisted, queued task that is not in the
// in-process queue; it is enqueued again only when a later boot refills
// the queue from the store.
type Admission struct {
	tasks repository.TaskRepository
	logs  repository.ScheduleLogRepository
	q     *queue.Queue
	log   logger.Logger
	events EventPublisher
}

// NewAdmission constructs an Admission service.
func NewAdmission(tasks repository.TaskRepository, logs repository.ScheduleLogRepository, q *queue.Queue, log logger.Logger, events EventPublisher) *Admission {
	return &Admission{tasks: tasks, logs: logs, q: q, log: log, events: events}
}

// Submit runs the full admission pipeline and returns the persisted task.
func (a *Admission) Submit(ctx context.Context, req SubmitRequest) (*model.Task, error) {
	task, err := model.NewTask(req.TaskType, req.Priority, req.Cost, req.Region, req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("validate task: %w", err)
	}

	if err := a.tasks.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	createdLog := model.NewScheduleLog(task.ID(), model.EventCreated, map[string]interface{}{
		"task_type": string(task.Type()),
		"priority":  task.Priority(),
		"region":    string(task.Region()),
	})
	if err := a.logs.Append(ctx, createdLog); err != nil {
		a.log.Error("failed to append created log", "task_id", task.ID(), "error", err)
	}

	if a.events != nil {
		a.events.PublishTaskEvent(ctx, model.EventCreated, task, createdLog.Details)
	}

	if err := a.q.Enqueue(task.ID()); err != nil {
		a.log.Error("task persisted but queue is full, not enqueued", "task_id", task.ID(), "error", err)
		return task, fmt.Errorf("enqueue task: %w", err)
	}

	a.log.Info("task admitted", "task_id", task.ID(), "type", task.Type(), "priority", task.Priority())
	return task, nil
}

// Cancel cancels a still-queued task. Returns model.ErrIllegalTransition
// if the task has already left the queued state.
func (a *Admission) Cancel(ctx context.Context, id model.TaskID) error {
	cancelLog := model.NewScheduleLog(id, model.EventCancelled, nil)
	if err := a.tasks.Cancel(ctx, id, cancelLog); err != nil {
		return err
	}
	if a.events != nil {
		if task, err := a.tasks.FindByID(ctx, id); err == nil {
			a.events.PublishTaskEvent(ctx, model.EventCancelled, task, cancelLog.Details)
		}
	}
	a.log.Info("task cancelled", "task_id", id)
	return nil
}
