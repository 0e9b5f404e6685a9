package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrouterx/taskrouterx/internal/taskrouter/app/service"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/queue"
)

func newTestRunner(t *testing.T) *service.Runner {
	t.Helper()
	tasks := newFakeTaskRepository()
	pools := newFakeWorkerPoolRepository()
	q := queue.New(0)
	executor := service.NewExecutor(tasks, pools, newFakeScheduleLogRepository(), service.DefaultExecutorConfig(), noopLogger{}, nil)
	return service.NewRunner(q, tasks, pools, executor, service.RunnerConfig{
		PollInterval:     10 * time.Millisecond,
		RequeueBackoff:   10 * time.Millisecond,
		DefaultAlgorithm: "fifo",
	}, noopLogger{}, nil)
}

func TestStats_Snapshot(t *testing.T) {
	tasks := newFakeTaskRepository()
	pool, err := model.NewWorkerPool("east-cpu-pool", model.RegionUSEast, model.ResourceCPU, 0.5, 8)
	require.NoError(t, err)
	pools := newFakeWorkerPoolRepository(pool)
	q := queue.New(0)
	require.NoError(t, q.Enqueue(model.NewTaskID()))

	runner := newTestRunner(t)
	stats := service.NewStats(tasks, pools, q, runner)

	snapshot, err := stats.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot.Pools, 1)
	assert.Equal(t, "east-cpu-pool", snapshot.Pools[0].Name)
	assert.Equal(t, int64(1), snapshot.Queue.CurrentSize)
	assert.Equal(t, "fifo", snapshot.Algorithm)
}

func TestStats_Liveness_NotRunning(t *testing.T) {
	tasks := newFakeTaskRepository()
	pools := newFakeWorkerPoolRepository()
	q := queue.New(0)
	runner := newTestRunner(t)
	stats := service.NewStats(tasks, pools, q, runner)

	health := stats.Liveness()
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.RunnerActive)
}

func TestStats_Liveness_Running(t *testing.T) {
	tasks := newFakeTaskRepository()
	pools := newFakeWorkerPoolRepository()
	q := queue.New(0)
	runner := newTestRunner(t)
	runner.Start(context.Background())
	defer runner.Stop(time.Second)

	stats := service.NewStats(tasks, pools, q, runner)
	health := stats.Liveness()
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.RunnerActive)
}
