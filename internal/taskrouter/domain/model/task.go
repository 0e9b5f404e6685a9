// Package model holds the TaskRouterX domain aggregates: Task, WorkerPool
// and ScheduleLog.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskID uniquely identifies a task.
type TaskID string

// NewTaskID creates a new opaque task identifier.
func NewTaskID() TaskID {
	return TaskID(uuid.New().String())
}

func (id TaskID) String() string { return string(id) }

// TaskType is the kind of work a task represents.
type TaskType string

const (
	TaskTypeOrder      TaskType = "order"
	TaskTypeSimulation TaskType = "simulation"
	TaskTypeQuery      TaskType = "query"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeOrder, TaskTypeSimulation, TaskTypeQuery:
		return true
	}
	return false
}

// TaskStatus is a node in the task status lattice.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Region is a worker pool's (and task's preferred) geographic region.
type Region string

const (
	RegionUSEast Region = "us-east"
	RegionUSWest Region = "us-west"
	RegionEUWest Region = "eu-west"
	RegionAPEast Region = "ap-east"
)

func (r Region) Valid() bool {
	switch r {
	case RegionUSEast, RegionUSWest, RegionEUWest, RegionAPEast:
		return true
	}
	return false
}

// Algorithm identifies which policy strategy dispatched a task.
type Algorithm string

const (
	AlgorithmFIFO     Algorithm = "fifo"
	AlgorithmPriority Algorithm = "priority"
	AlgorithmMinCost  Algorithm = "min_cost"
)

func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmFIFO, AlgorithmPriority, AlgorithmMinCost:
		return true
	}
	return false
}

// ErrIllegalTransition is returned when a status transition violates the lattice.
var ErrIllegalTransition = errors.New("illegal task status transition")

// Task is the unit of work routed and executed by TaskRouterX.
type Task struct {
	id            TaskID
	taskType      TaskType
	priority      int
	cost          float64
	region        Region
	status        TaskStatus
	enqueuedAt    time.Time
	startedAt     *time.Time
	completedAt   *time.Time
	workerID      string
	algorithmUsed Algorithm
	metadata      map[string]interface{}
}

// NewTask creates a new task in status queued.
func NewTask(taskType TaskType, priority int, cost float64, region Region, metadata map[string]interface{}) (*Task, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("invalid task type %q", taskType)
	}
	if priority < 1 || priority > 10 {
		return nil, fmt.Errorf("priority %d out of range [1,10]", priority)
	}
	if cost <= 0 {
		return nil, fmt.Errorf("cost must be positive, got %v", cost)
	}
	if !region.Valid() {
		return nil, fmt.Errorf("invalid region %q", region)
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &Task{
		id:         NewTaskID(),
		taskType:   taskType,
		priority:   priority,
		cost:       cost,
		region:     region,
		status:     TaskStatusQueued,
		enqueuedAt: time.Now().UTC(),
		metadata:   metadata,
	}, nil
}

// Getters.
func (t *Task) ID() TaskID                          { return t.id }
func (t *Task) Type() TaskType                       { return t.taskType }
func (t *Task) Priority() int                        { return t.priority }
func (t *Task) Cost() float64                        { return t.cost }
func (t *Task) Region() Region                       { return t.region }
func (t *Task) Status() TaskStatus                   { return t.status }
func (t *Task) EnqueuedAt() time.Time                { return t.enqueuedAt }
func (t *Task) StartedAt() *time.Time                { return t.startedAt }
func (t *Task) CompletedAt() *time.Time              { return t.completedAt }
func (t *Task) WorkerID() string                     { return t.workerID }
func (t *Task) AlgorithmUsed() Algorithm              { return t.algorithmUsed }
func (t *Task) Metadata() map[string]interface{}     { return t.metadata }

// SetAlgorithmUsed records which strategy dispatched this task. Only legal
// while the task is still queued (recorded at dispatch-commit time, before
// the claim transitions it to processing).
func (t *Task) SetAlgorithmUsed(a Algorithm) error {
	if t.status != TaskStatusQueued {
		return fmt.Errorf("cannot set algorithm on task in status %s", t.status)
	}
	t.algorithmUsed = a
	return nil
}

// Dispatch transitions queued -> processing, binding the task to a pool.
func (t *Task) Dispatch(workerID string, at time.Time) error {
	if t.status != TaskStatusQueued {
		return fmt.Errorf("%w: dispatch from %s", ErrIllegalTransition, t.status)
	}
	t.status = TaskStatusProcessing
	t.workerID = workerID
	t.startedAt = &at
	return nil
}

// Complete transitions processing -> completed.
func (t *Task) Complete(at time.Time) error {
	if t.status != TaskStatusProcessing {
		return fmt.Errorf("%w: complete from %s", ErrIllegalTransition, t.status)
	}
	t.status = TaskStatusCompleted
	t.completedAt = &at
	return nil
}

// Fail transitions processing -> failed.
func (t *Task) Fail(at time.Time) error {
	if t.status != TaskStatusProcessing {
		return fmt.Errorf("%w: fail from %s", ErrIllegalTransition, t.status)
	}
	t.status = TaskStatusFailed
	t.completedAt = &at
	return nil
}

// Cancel transitions queued -> cancelled. Only a queued task may be cancelled.
func (t *Task) Cancel(at time.Time) error {
	if t.status != TaskStatusQueued {
		return fmt.Errorf("%w: cancel from %s", ErrIllegalTransition, t.status)
	}
	t.status = TaskStatusCancelled
	t.completedAt = &at
	return nil
}

// IsTerminal reports whether the task has reached an immutable state.
func (t *Task) IsTerminal() bool {
	switch t.status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// ReconstructTask rebuilds a Task from persisted state.
func ReconstructTask(
	id TaskID,
	taskType TaskType,
	priority int,
	cost float64,
	region Region,
	status TaskStatus,
	enqueuedAt time.Time,
	startedAt, completedAt *time.Time,
	workerID string,
	algorithmUsed Algorithm,
	metadata map[string]interface{},
) *Task {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &Task{
		id:            id,
		taskType:      taskType,
		priority:      priority,
		cost:          cost,
		region:        region,
		status:        status,
		enqueuedAt:    enqueuedAt,
		startedAt:     startedAt,
		completedAt:   completedAt,
		workerID:      workerID,
		algorithmUsed: algorithmUsed,
		metadata:      metadata,
	}
}
