package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/taskrouterx/taskrouterx/internal/platform/logger"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// noopLogger discards everything; satisfies logger.Logger for tests that
// don't assert on log output.
type noopLogger struct{}

func (noopLogger) Debug(msg string, fields ...interface{})        {}
func (noopLogger) Info(msg string, fields ...interface{})         {}
func (noopLogger) Warn(msg string, fields ...interface{})         {}
func (noopLogger) Error(msg string, fields ...interface{})        {}
func (noopLogger) Fatal(msg string, fields ...interface{})        {}
func (noopLogger) WithFields(fields map[string]interface{}) logger.Logger { return noopLogger{} }
func (noopLogger) WithContext(ctx context.Context) logger.Logger  { return noopLogger{} }

// fakeTaskRepository is an in-memory TaskRepository for exercising
// Admission, Executor and Runner without a database.
type fakeTaskRepository struct {
	mu    sync.Mutex
	tasks map[model.TaskID]*model.Task

	claimErr   error
	releaseErr error
	dispatchErr error

	resetOrphansCalls int
}

func newFakeTaskRepository() *fakeTaskRepository {
	return &fakeTaskRepository{tasks: make(map[model.TaskID]*model.Task)}
}

func (f *fakeTaskRepository) Save(ctx context.Context, task *model.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID()] = task
	return nil
}

func (f *fakeTaskRepository) FindByID(ctx context.Context, id model.TaskID) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	return task, nil
}

func (f *fakeTaskRepository) List(ctx context.Context, filter repository.TaskFilter) ([]*model.Task, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, int64(len(out)), nil
}

func (f *fakeTaskRepository) CountByStatus(ctx context.Context) (map[model.TaskStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[model.TaskStatus]int64)
	for _, t := range f.tasks {
		counts[t.Status()]++
	}
	return counts, nil
}

func (f *fakeTaskRepository) Dispatch(ctx context.Context, taskID model.TaskID, algorithm model.Algorithm, log *model.ScheduleLog) error {
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return repository.ErrTaskNotFound
	}
	return task.SetAlgorithmUsed(algorithm)
}

func (f *fakeTaskRepository) Claim(ctx context.Context, taskID model.TaskID, poolName string) error {
	if f.claimErr != nil {
		return f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return repository.ErrTaskNotFound
	}
	return task.Dispatch(poolName, task.EnqueuedAt())
}

func (f *fakeTaskRepository) Release(ctx context.Context, taskID model.TaskID, poolName string, success bool, log *model.ScheduleLog) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return repository.ErrTaskNotFound
	}
	if success {
		return task.Complete(task.EnqueuedAt())
	}
	return task.Fail(task.EnqueuedAt())
}

func (f *fakeTaskRepository) Cancel(ctx context.Context, taskID model.TaskID, log *model.ScheduleLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return repository.ErrTaskNotFound
	}
	return task.Cancel(task.EnqueuedAt())
}

func (f *fakeTaskRepository) AverageCompletedLatency(ctx context.Context) (float64, error) {
	return 0, nil
}

func (f *fakeTaskRepository) ThroughputPerMinute(ctx context.Context, windowSeconds float64) (float64, error) {
	return 0, nil
}

func (f *fakeTaskRepository) QueuedIDs(ctx context.Context) ([]model.TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []model.TaskID
	for id, t := range f.tasks {
		if t.Status() == model.TaskStatusQueued {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeTaskRepository) ResetOrphans(ctx context.Context, olderThan time.Duration) ([]model.TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetOrphansCalls++
	cutoff := time.Now().UTC().Add(-olderThan)
	var reset []model.TaskID
	for id, t := range f.tasks {
		if t.Status() != model.TaskStatusProcessing {
			continue
		}
		if olderThan > 0 && (t.StartedAt() == nil || !t.StartedAt().Before(cutoff)) {
			continue
		}
		f.tasks[id] = model.ReconstructTask(
			t.ID(), t.Type(), t.Priority(), t.Cost(), t.Region(),
			model.TaskStatusQueued, t.EnqueuedAt(), nil, nil, "", t.AlgorithmUsed(), t.Metadata(),
		)
		reset = append(reset, id)
	}
	return reset, nil
}

func (f *fakeTaskRepository) resetOrphansCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resetOrphansCalls
}

// fakeWorkerPoolRepository is an in-memory WorkerPoolRepository.
type fakeWorkerPoolRepository struct {
	mu    sync.Mutex
	pools map[string]*model.WorkerPool
}

func newFakeWorkerPoolRepository(pools ...*model.WorkerPool) *fakeWorkerPoolRepository {
	r := &fakeWorkerPoolRepository{pools: make(map[string]*model.WorkerPool)}
	for _, p := range pools {
		r.pools[p.Name] = p
	}
	return r
}

func (r *fakeWorkerPoolRepository) Save(ctx context.Context, pool *model.WorkerPool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[pool.Name] = pool
	return nil
}

func (r *fakeWorkerPoolRepository) FindByName(ctx context.Context, name string) (*model.WorkerPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pool, ok := r.pools[name]
	if !ok {
		return nil, repository.ErrPoolNotFound
	}
	return pool, nil
}

func (r *fakeWorkerPoolRepository) Snapshot(ctx context.Context) ([]*model.WorkerPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.WorkerPool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeWorkerPoolRepository) ZeroAllLoads(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pools {
		p.CurrentLoad = 0
	}
	return nil
}

// fakeScheduleLogRepository is an in-memory ScheduleLogRepository.
type fakeScheduleLogRepository struct {
	mu   sync.Mutex
	logs []*model.ScheduleLog
}

func newFakeScheduleLogRepository() *fakeScheduleLogRepository {
	return &fakeScheduleLogRepository{}
}

func (r *fakeScheduleLogRepository) Append(ctx context.Context, log *model.ScheduleLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *fakeScheduleLogRepository) List(ctx context.Context, filter repository.LogFilter) ([]*model.ScheduleLog, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs, int64(len(r.logs)), nil
}

func (r *fakeScheduleLogRepository) FindOlderThan(ctx context.Context, cutoffSeconds float64, limit int) ([]*model.ScheduleLog, error) {
	return nil, nil
}

func (r *fakeScheduleLogRepository) DeleteByIDs(ctx context.Context, ids []model.ScheduleLogID) error {
	return nil
}

// recordingEventPublisher captures published events for assertions.
type recordingEventPublisher struct {
	mu     sync.Mutex
	events []model.EventType
}

func (p *recordingEventPublisher) PublishTaskEvent(ctx context.Context, eventType model.EventType, task *model.Task, details map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingEventPublisher) seen() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, len(p.events))
	copy(out, p.events)
	return out
}
