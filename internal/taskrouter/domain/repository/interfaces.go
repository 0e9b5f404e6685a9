// Package repository defines the Store interfaces TaskRouterX's domain
// services depend on. Concrete persistence lives in
// internal/taskrouter/adapters/repository/postgres.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
)

var (
	// ErrTaskNotFound is returned when a task id has no matching row.
	ErrTaskNotFound = errors.New("task not found")
	// ErrPoolNotFound is returned when a pool name has no matching row.
	ErrPoolNotFound = errors.New("worker pool not found")
	// ErrPoolFull is returned by a conditional capacity claim that lost the race.
	ErrPoolFull = errors.New("worker pool at capacity")
)

// TaskFilter narrows a task listing.
type TaskFilter struct {
	Status *model.TaskStatus
	Type   *model.TaskType
	Region *model.Region
	Page   int
	PageSize int
}

// LogFilter narrows a schedule log listing.
type LogFilter struct {
	TaskID    *model.TaskID
	EventType *model.EventType
	Page      int
	PageSize  int
}

// TaskRepository persists Task aggregates.
type TaskRepository interface {
	Save(ctx context.Context, task *model.Task) error
	FindByID(ctx context.Context, id model.TaskID) (*model.Task, error)
	List(ctx context.Context, filter TaskFilter) ([]*model.Task, int64, error)
	CountByStatus(ctx context.Context) (map[model.TaskStatus]int64, error)

	// Dispatch atomically records the algorithm used for a queued task as
	// part of the same transaction as a ScheduleLog append.
	Dispatch(ctx context.Context, taskID model.TaskID, algorithm model.Algorithm, log *model.ScheduleLog) error

	// Claim atomically transitions a queued task to processing and
	// increments the target pool's current_load, provided the pool has
	// free capacity. Returns ErrPoolFull if the conditional update found
	// no room.
	Claim(ctx context.Context, taskID model.TaskID, poolName string) error

	// Release atomically decrements the pool's current_load and finalizes
	// the task as completed or failed, appending the corresponding log.
	Release(ctx context.Context, taskID model.TaskID, poolName string, success bool, log *model.ScheduleLog) error

	// Cancel atomically transitions a queued task to cancelled and appends
	// the cancellation log. Returns ErrIllegalTransition if not queued.
	Cancel(ctx context.Context, taskID model.TaskID, log *model.ScheduleLog) error

	// AverageCompletedLatency returns the mean completed_at-started_at over
	// completed tasks.
	AverageCompletedLatency(ctx context.Context) (float64, error)

	// ThroughputPerMinute returns completed tasks per minute over window.
	ThroughputPerMinute(ctx context.Context, windowSeconds float64) (float64, error)

	// QueuedIDs returns the ids of every queued task in admission order.
	// Used at boot to rebuild the in-process queue from the store.
	QueuedIDs(ctx context.Context) ([]model.TaskID, error)

	// ResetOrphans resets processing tasks whose started_at is older than
	// olderThan back to queued, releasing the capacity their pools still
	// hold for them in the same transaction. olderThan <= 0 resets every
	// processing task (boot-time sweep). Returns the ids of the reset
	// tasks so the caller can re-enqueue them.
	ResetOrphans(ctx context.Context, olderThan time.Duration) ([]model.TaskID, error)
}

// WorkerPoolRepository persists WorkerPool aggregates.
type WorkerPoolRepository interface {
	Save(ctx context.Context, pool *model.WorkerPool) error
	FindByName(ctx context.Context, name string) (*model.WorkerPool, error)
	Snapshot(ctx context.Context) ([]*model.WorkerPool, error)
	ZeroAllLoads(ctx context.Context) error
}

// ScheduleLogRepository persists append-only ScheduleLog entries.
type ScheduleLogRepository interface {
	Append(ctx context.Context, log *model.ScheduleLog) error
	List(ctx context.Context, filter LogFilter) ([]*model.ScheduleLog, int64, error)
	FindOlderThan(ctx context.Context, cutoffSeconds float64, limit int) ([]*model.ScheduleLog, error)
	DeleteByIDs(ctx context.Context, ids []model.ScheduleLogID) error
}
