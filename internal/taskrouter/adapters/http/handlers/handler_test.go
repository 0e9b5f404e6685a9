package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrouterx/taskrouterx/internal/platform/cache"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/adapters/http/dto"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/adapters/http/handlers"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/app/service"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/policy"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/queue"
)

type testHarness struct {
	router *mux.Router
	tasks  *fakeTaskRepository
	pools  *fakeWorkerPoolRepository
	logs   *fakeScheduleLogRepository
	q      *queue.Queue
	runner *service.Runner
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	tasks := newFakeTaskRepository()
	pools := newFakeWorkerPoolRepository()
	logs := newFakeScheduleLogRepository()
	q := queue.New(0)

	exec := service.NewExecutor(tasks, pools, logs, service.DefaultExecutorConfig(), noopLogger{}, nil)
	runner := service.NewRunner(q, tasks, pools, exec, service.RunnerConfig{
		PollInterval:     50 * time.Millisecond,
		DefaultAlgorithm: policy.StrategyFIFO,
	}, noopLogger{}, nil)
	admission := service.NewAdmission(tasks, logs, q, noopLogger{}, nil)
	stats := service.NewStats(tasks, pools, q, runner)

	handler := handlers.NewTaskRouterHandler(admission, stats, runner, nil, tasks, logs, pools, noopLogger{})

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	return &testHarness{router: router, tasks: tasks, pools: pools, logs: logs, q: q, runner: runner}
}

// newTestHarnessWithMaintenance is newTestHarness plus a maintenance
// cache reader, for exercising GET /api/v1/system/stats's cached-vs-live
// fallback.
func newTestHarnessWithMaintenance(t *testing.T, maintenance fakeMaintenance) *testHarness {
	t.Helper()

	tasks := newFakeTaskRepository()
	pools := newFakeWorkerPoolRepository()
	logs := newFakeScheduleLogRepository()
	q := queue.New(0)

	exec := service.NewExecutor(tasks, pools, logs, service.DefaultExecutorConfig(), noopLogger{}, nil)
	runner := service.NewRunner(q, tasks, pools, exec, service.RunnerConfig{
		PollInterval:     50 * time.Millisecond,
		DefaultAlgorithm: policy.StrategyFIFO,
	}, noopLogger{}, nil)
	admission := service.NewAdmission(tasks, logs, q, noopLogger{}, nil)
	stats := service.NewStats(tasks, pools, q, runner)

	handler := handlers.NewTaskRouterHandler(admission, stats, runner, maintenance, tasks, logs, pools, noopLogger{})

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	return &testHarness{router: router, tasks: tasks, pools: pools, logs: logs, q: q, runner: runner}
}

func (h *testHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTask_Success(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/tasks", dto.SubmitTaskRequest{
		TaskType: "order",
		Priority: 5,
		Cost:     1.0,
		Region:   "us-east",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Success bool            `json:"success"`
		Data    dto.TaskResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "queued", resp.Data.Status)
	assert.Equal(t, 1, h.q.Size())
}

func TestSubmitTask_ValidationError(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/tasks", dto.SubmitTaskRequest{
		Priority: 5,
		Cost:     1.0,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestGetTask_NotFound(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/tasks/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks_Paginated(t *testing.T) {
	h := newTestHarness(t)

	for i := 0; i < 3; i++ {
		h.do(t, http.MethodPost, "/api/v1/tasks", dto.SubmitTaskRequest{
			TaskType: "order", Priority: 5, Cost: 1.0, Region: "us-east",
		})
	}

	rec := h.do(t, http.MethodGet, "/api/v1/tasks?page=1&page_size=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool               `json:"success"`
		Data    []dto.TaskResponse `json:"data"`
		Meta    struct {
			Total int64 `json:"total"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 3)
	assert.Equal(t, int64(3), resp.Meta.Total)
}

func TestListTasks_InvalidPage(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/tasks?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTasks_InvalidStatusFilter(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/tasks?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListLogs_InvalidEventTypeFilter(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/logs?event_type=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTask(t *testing.T) {
	h := newTestHarness(t)

	submitRec := h.do(t, http.MethodPost, "/api/v1/tasks", dto.SubmitTaskRequest{
		TaskType: "order", Priority: 5, Cost: 1.0, Region: "us-east",
	})
	var submitResp struct {
		Data dto.TaskResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(submitRec.Body.Bytes(), &submitResp))

	rec := h.do(t, http.MethodDelete, "/api/v1/tasks/"+submitResp.Data.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := h.tasks.FindByID(context.Background(), model.TaskID(submitResp.Data.ID))
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, stored.Status())
}

func TestSwitchAlgorithm(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/algorithms/switch", dto.SwitchAlgorithmRequest{Algorithm: "min_cost"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, policy.StrategyMinCost, h.runner.Algorithm())
}

func TestSwitchAlgorithm_Invalid(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/algorithms/switch", dto.SwitchAlgorithmRequest{Algorithm: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListWorkerPools(t *testing.T) {
	h := newTestHarness(t)
	pool, err := model.NewWorkerPool("east-cpu-pool", model.RegionUSEast, model.ResourceCPU, 0.5, 8)
	require.NoError(t, err)
	require.NoError(t, h.pools.Save(context.Background(), pool))

	rec := h.do(t, http.MethodGet, "/api/v1/workers", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data dto.WorkerPoolListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "east-cpu-pool", resp.Data.Items[0].Name)
}

func TestSystemStats_ServesCachedSnapshotOnHit(t *testing.T) {
	cached := service.SystemStats{Algorithm: "cached_from_redis", TasksScheduled: 42}
	h := newTestHarnessWithMaintenance(t, fakeMaintenance{snapshot: cached})

	rec := h.do(t, http.MethodGet, "/api/v1/system/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data dto.SystemStatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cached_from_redis", resp.Data.Algorithm)
	assert.Equal(t, int64(42), resp.Data.TasksScheduled)
}

func TestSystemStats_FallsBackToLiveOnCacheMiss(t *testing.T) {
	h := newTestHarnessWithMaintenance(t, fakeMaintenance{err: cache.ErrCacheMiss})

	rec := h.do(t, http.MethodGet, "/api/v1/system/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data dto.SystemStatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(policy.StrategyFIFO), resp.Data.Algorithm)
}

func TestHealth(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data dto.HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Data.Status, "runner has not been started in this harness")
}

func TestSimulate(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/simulate", dto.SimulateRequest{Count: 5})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data dto.SimulationResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Data.Requested)
	assert.Equal(t, 5, resp.Data.Admitted)
}

func TestSimulate_RejectsNonPositiveCount(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/simulate", dto.SimulateRequest{Count: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
