package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/taskrouterx/taskrouterx/internal/platform/cache"
	"github.com/taskrouterx/taskrouterx/internal/platform/logger"
	"github.com/taskrouterx/taskrouterx/internal/platform/response"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/adapters/http/dto"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/app/service"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/policy"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// cachedStatsReader is the narrow slice of *service.Maintenance the
// handler needs, so a deployment that runs without Redis configured can
// pass nil and fall straight through to a live snapshot.
type cachedStatsReader interface {
	CachedSnapshot(ctx context.Context) (service.SystemStats, error)
}

// TaskRouterHandler serves the public TaskRouterX HTTP surface.
type TaskRouterHandler struct {
	admission   *service.Admission
	stats       *service.Stats
	runner      *service.Runner
	maintenance cachedStatsReader
	tasks       repository.TaskRepository
	logs        repository.ScheduleLogRepository
	pools       repository.WorkerPoolRepository
	log         logger.Logger
}

// NewTaskRouterHandler constructs a TaskRouterHandler. maintenance may be
// nil, in which case GET /api/v1/system/stats always computes a live
// snapshot.
func NewTaskRouterHandler(
	admission *service.Admission,
	stats *service.Stats,
	runner *service.Runner,
	maintenance cachedStatsReader,
	tasks repository.TaskRepository,
	logs repository.ScheduleLogRepository,
	pools repository.WorkerPoolRepository,
	log logger.Logger,
) *TaskRouterHandler {
	return &TaskRouterHandler{
		admission:   admission,
		stats:       stats,
		runner:      runner,
		maintenance: maintenance,
		tasks:       tasks,
		logs:        logs,
		pools:       pools,
		log:         log,
	}
}

// RegisterRoutes wires the TaskRouterX surface onto router.
func (h *TaskRouterHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/tasks", h.SubmitTask).Methods("POST")
	router.HandleFunc("/api/v1/tasks", h.ListTasks).Methods("GET")
	router.HandleFunc("/api/v1/tasks/{id}", h.GetTask).Methods("GET")
	router.HandleFunc("/api/v1/tasks/{id}", h.CancelTask).Methods("DELETE")
	router.HandleFunc("/api/v1/simulate", h.Simulate).Methods("POST")
	router.HandleFunc("/api/v1/logs", h.ListLogs).Methods("GET")
	router.HandleFunc("/api/v1/workers", h.ListWorkerPools).Methods("GET")
	router.HandleFunc("/api/v1/algorithms/switch", h.SwitchAlgorithm).Methods("POST")
	router.HandleFunc("/api/v1/system/stats", h.SystemStats).Methods("GET")
	router.HandleFunc("/api/v1/health", h.Health).Methods("GET")
}

// SubmitTask handles POST /api/v1/tasks.
func (h *TaskRouterHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dto.SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		response.ErrorWithMessage(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	task, err := h.admission.Submit(ctx, req.ToCommand())
	if err != nil {
		h.log.Error("failed to submit task", "error", err)
		response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	response.Created(w, dto.TaskToDTO(task))
}

// ListTasks handles GET /api/v1/tasks.
func (h *TaskRouterHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	page, pageSize, err := parsePagination(query)
	if err != nil {
		response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	filter := repository.TaskFilter{Page: page - 1, PageSize: pageSize}
	if status := query.Get("status"); status != "" {
		s := model.TaskStatus(status)
		if !s.Valid() {
			response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", "invalid status filter")
			return
		}
		filter.Status = &s
	}
	if taskType := query.Get("type"); taskType != "" {
		t := model.TaskType(taskType)
		if !t.Valid() {
			response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", "invalid type filter")
			return
		}
		filter.Type = &t
	}
	if region := query.Get("region"); region != "" {
		rg := model.Region(region)
		if !rg.Valid() {
			response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", "invalid region filter")
			return
		}
		filter.Region = &rg
	}

	tasks, total, err := h.tasks.List(ctx, filter)
	if err != nil {
		h.log.Error("failed to list tasks", "error", err)
		response.ErrorWithMessage(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list tasks")
		return
	}

	items := make([]dto.TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, dto.TaskToDTO(t))
	}

	response.Paginated(w, items, page, pageSize, total)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *TaskRouterHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := model.TaskID(mux.Vars(r)["id"])

	task, err := h.tasks.FindByID(ctx, id)
	if err != nil {
		if err == repository.ErrTaskNotFound {
			response.ErrorWithMessage(w, http.StatusNotFound, "NOT_FOUND", "task not found")
			return
		}
		h.log.Error("failed to get task", "error", err, "task_id", id)
		response.ErrorWithMessage(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to get task")
		return
	}

	response.OK(w, dto.TaskToDTO(task))
}

// CancelTask handles DELETE /api/v1/tasks/{id}.
func (h *TaskRouterHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := model.TaskID(mux.Vars(r)["id"])

	if err := h.admission.Cancel(ctx, id); err != nil {
		if err == repository.ErrTaskNotFound {
			response.ErrorWithMessage(w, http.StatusNotFound, "NOT_FOUND", "task not found")
			return
		}
		response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	response.NoContent(w)
}

// Simulate handles POST /api/v1/simulate: admits a burst of synthetic
// tasks and responds with a summary of what was accepted. Admission runs
// synchronously within the request, not in the background; the response
// is written only after every task has been submitted.
func (h *TaskRouterHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dto.SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Count <= 0 {
		response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", "count must be positive")
		return
	}

	resp := dto.SimulationResponse{Requested: req.Count}
	commands := buildSimulationCommands(req)

	for _, cmd := range commands {
		task, err := h.admission.Submit(ctx, cmd)
		if err != nil {
			resp.Failed++
			continue
		}
		resp.Admitted++
		resp.TaskIDs = append(resp.TaskIDs, task.ID().String())
	}

	response.OK(w, resp)
}

// ListLogs handles GET /api/v1/logs.
func (h *TaskRouterHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	page, pageSize, err := parsePagination(query)
	if err != nil {
		response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	filter := repository.LogFilter{Page: page - 1, PageSize: pageSize}
	if taskID := query.Get("task_id"); taskID != "" {
		tid := model.TaskID(taskID)
		filter.TaskID = &tid
	}
	if eventType := query.Get("event_type"); eventType != "" {
		et := model.EventType(eventType)
		if !et.Valid() {
			response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", "invalid event_type filter")
			return
		}
		filter.EventType = &et
	}

	logEntries, total, err := h.logs.List(ctx, filter)
	if err != nil {
		h.log.Error("failed to list schedule logs", "error", err)
		response.ErrorWithMessage(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list logs")
		return
	}

	items := make([]dto.ScheduleLogResponse, 0, len(logEntries))
	for _, l := range logEntries {
		items = append(items, dto.LogToDTO(l))
	}

	response.Paginated(w, items, page, pageSize, total)
}

// ListWorkerPools handles GET /api/v1/workers.
func (h *TaskRouterHandler) ListWorkerPools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pools, err := h.pools.Snapshot(ctx)
	if err != nil {
		h.log.Error("failed to snapshot worker pools", "error", err)
		response.ErrorWithMessage(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list workers")
		return
	}

	items := make([]dto.WorkerPoolResponse, 0, len(pools))
	for _, p := range pools {
		items = append(items, dto.WorkerPoolResponse{
			Name:               p.Name,
			Region:             string(p.Region),
			ResourceType:       string(p.ResourceType),
			CostPerUnit:        p.CostPerUnit,
			Capacity:           p.Capacity,
			CurrentLoad:        p.CurrentLoad,
			UtilizationPercent: p.UtilizationPercent(),
		})
	}

	response.OK(w, dto.WorkerPoolListResponse{Items: items})
}

// SwitchAlgorithm handles POST /api/v1/algorithms/switch.
func (h *TaskRouterHandler) SwitchAlgorithm(w http.ResponseWriter, r *http.Request) {
	var req dto.SwitchAlgorithmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	strategy := policy.Strategy(req.Algorithm)
	if err := h.runner.SetAlgorithm(strategy); err != nil {
		response.ErrorWithMessage(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	response.OK(w, map[string]string{"algorithm": string(strategy)})
}

// SystemStats handles GET /api/v1/system/stats. It serves the
// Maintenance-refreshed Redis snapshot when one is available, and only
// falls back to computing a live one on a cache miss.
func (h *TaskRouterHandler) SystemStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snapshot, err := h.cachedOrLiveSnapshot(ctx)
	if err != nil {
		h.log.Error("failed to compute system stats", "error", err)
		response.ErrorWithMessage(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to compute stats")
		return
	}

	response.OK(w, dto.StatsToDTO(snapshot))
}

func (h *TaskRouterHandler) cachedOrLiveSnapshot(ctx context.Context) (service.SystemStats, error) {
	if h.maintenance != nil {
		snapshot, err := h.maintenance.CachedSnapshot(ctx)
		if err == nil {
			return snapshot, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			h.log.Error("stats cache read failed, falling back to a live snapshot", "error", err)
		}
	}
	return h.stats.Snapshot(ctx)
}

// Health handles GET /api/v1/health.
func (h *TaskRouterHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.stats.Liveness()
	response.OK(w, dto.HealthResponse{
		Status:       health.Status,
		RunnerActive: health.RunnerActive,
		QueueSize:    health.QueueSize,
	})
}

var (
	errInvalidPage     = errors.New("page must be >= 1")
	errInvalidPageSize = errors.New("page_size must be between 1 and 100")
)

func parsePagination(query map[string][]string) (page, pageSize int, err error) {
	page = 1
	pageSize = 10

	if v := getQueryParam(query, "page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 1 {
			return 0, 0, errInvalidPage
		}
	}
	if v := getQueryParam(query, "page_size"); v != "" {
		pageSize, err = strconv.Atoi(v)
		if err != nil || pageSize < 1 || pageSize > 100 {
			return 0, 0, errInvalidPageSize
		}
	}
	return page, pageSize, nil
}

func getQueryParam(query map[string][]string, key string) string {
	values := query[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func buildSimulationCommands(req dto.SimulateRequest) []service.SubmitRequest {
	taskTypes := req.TaskTypes
	if len(taskTypes) == 0 {
		taskTypes = []string{string(model.TaskTypeOrder), string(model.TaskTypeSimulation), string(model.TaskTypeQuery)}
	}
	regions := req.Regions
	if len(regions) == 0 {
		regions = []string{string(model.RegionUSEast), string(model.RegionUSWest), string(model.RegionEUWest), string(model.RegionAPEast)}
	}
	minPriority, maxPriority := req.MinPriority, req.MaxPriority
	if minPriority <= 0 {
		minPriority = 1
	}
	if maxPriority <= 0 || maxPriority > 10 {
		maxPriority = 10
	}

	commands := make([]service.SubmitRequest, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		priority := minPriority + (i % (maxPriority - minPriority + 1))
		commands = append(commands, service.SubmitRequest{
			TaskType: model.TaskType(taskTypes[i%len(taskTypes)]),
			Priority: priority,
			Cost:     1.0 + float64(i%5)*0.5,
			Region:   model.Region(regions[i%len(regions)]),
			Metadata: map[string]interface{}{"synthetic": true},
		})
	}
	return commands
}

