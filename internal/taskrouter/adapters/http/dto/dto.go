package dto

import (
	"errors"
	"time"

	"github.com/taskrouterx/taskrouterx/internal/platform/validation"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/app/service"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
)

// SubmitTaskRequest is the body of POST /api/v1/tasks.
type SubmitTaskRequest struct {
	TaskType string                 `json:"task_type"`
	Priority int                    `json:"priority"`
	Cost     float64                `json:"cost"`
	Region   string                 `json:"region"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate performs field-level checks ahead of domain construction, so
// malformed requests never reach the Admission service.
func (r *SubmitTaskRequest) Validate() error {
	v := validation.New()
	v.Required(r.TaskType, "task_type")
	v.Required(r.Region, "region")
	if r.TaskType != "" {
		v.OneOf(r.TaskType, []string{
			string(model.TaskTypeOrder), string(model.TaskTypeSimulation), string(model.TaskTypeQuery),
		}, "task_type")
	}
	if r.Region != "" {
		v.OneOf(r.Region, []string{
			string(model.RegionUSEast), string(model.RegionUSWest), string(model.RegionEUWest), string(model.RegionAPEast),
		}, "region")
	}
	v.Range(r.Priority, 1, 10, "priority")
	if r.Cost <= 0 {
		v.AddError("cost must be positive")
	}
	if v.HasErrors() {
		return errors.New(v.Error())
	}
	return nil
}

// ToCommand converts the wire request to the Admission service's input.
func (r *SubmitTaskRequest) ToCommand() service.SubmitRequest {
	return service.SubmitRequest{
		TaskType: model.TaskType(r.TaskType),
		Priority: r.Priority,
		Cost:     r.Cost,
		Region:   model.Region(r.Region),
		Metadata: r.Metadata,
	}
}

// TaskResponse is the wire shape of a Task.
type TaskResponse struct {
	ID            string                 `json:"id"`
	TaskType      string                 `json:"task_type"`
	Priority      int                    `json:"priority"`
	Cost          float64                `json:"cost"`
	Region        string                 `json:"region"`
	Status        string                 `json:"status"`
	EnqueuedAt    time.Time              `json:"enqueued_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	WorkerID      string                 `json:"worker_id,omitempty"`
	AlgorithmUsed string                 `json:"algorithm_used,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// TaskToDTO converts a domain Task to its wire representation.
func TaskToDTO(task *model.Task) TaskResponse {
	return TaskResponse{
		ID:            task.ID().String(),
		TaskType:      string(task.Type()),
		Priority:      task.Priority(),
		Cost:          task.Cost(),
		Region:        string(task.Region()),
		Status:        string(task.Status()),
		EnqueuedAt:    task.EnqueuedAt(),
		StartedAt:     task.StartedAt(),
		CompletedAt:   task.CompletedAt(),
		WorkerID:      task.WorkerID(),
		AlgorithmUsed: string(task.AlgorithmUsed()),
		Metadata:      task.Metadata(),
	}
}

// ScheduleLogResponse is the wire shape of a ScheduleLog.
type ScheduleLogResponse struct {
	ID        string                 `json:"id"`
	TaskID    string                 `json:"task_id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// LogToDTO converts a domain ScheduleLog to its wire representation.
func LogToDTO(log *model.ScheduleLog) ScheduleLogResponse {
	return ScheduleLogResponse{
		ID:        log.ID.String(),
		TaskID:    log.TaskID.String(),
		Timestamp: log.Timestamp,
		EventType: string(log.EventType),
		Details:   log.Details,
	}
}

// WorkerPoolResponse is the wire shape of a WorkerPool's load.
type WorkerPoolResponse struct {
	Name               string  `json:"name"`
	Region             string  `json:"region"`
	ResourceType       string  `json:"resource_type"`
	CostPerUnit        float64 `json:"cost_per_unit"`
	Capacity           int     `json:"capacity"`
	CurrentLoad        int     `json:"current_load"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// WorkerPoolListResponse wraps GET /api/v1/workers.
type WorkerPoolListResponse struct {
	Items []WorkerPoolResponse `json:"items"`
}

// SwitchAlgorithmRequest is the body of POST /api/v1/algorithms/switch.
type SwitchAlgorithmRequest struct {
	Algorithm string `json:"algorithm"`
}

// SimulateRequest is the body of POST /api/v1/simulate: generate a burst
// of synthetic tasks for load testing the scheduler.
type SimulateRequest struct {
	Count         int      `json:"count"`
	TaskTypes     []string `json:"task_types,omitempty"`
	Regions       []string `json:"regions,omitempty"`
	MinPriority   int      `json:"min_priority,omitempty"`
	MaxPriority   int      `json:"max_priority,omitempty"`
}

// SimulationResponse reports how many synthetic tasks were admitted.
type SimulationResponse struct {
	Requested int      `json:"requested"`
	Admitted  int      `json:"admitted"`
	Failed    int      `json:"failed"`
	TaskIDs   []string `json:"task_ids"`
}

// SystemStatsResponse is the wire shape of GET /api/v1/system/stats.
type SystemStatsResponse struct {
	CountsByStatus    map[string]int64     `json:"counts_by_status"`
	Pools             []WorkerPoolResponse `json:"pools"`
	AverageLatencySec float64              `json:"average_latency_seconds"`
	ThroughputPerMin  float64              `json:"throughput_per_minute"`
	QueueSize         int64                `json:"queue_size"`
	QueueEnqueued     int64                `json:"queue_enqueued"`
	QueueDequeued     int64                `json:"queue_dequeued"`
	TasksScheduled    int64                `json:"tasks_scheduled"`
	TasksProcessed    int64                `json:"tasks_processed"`
	TasksFailed       int64                `json:"tasks_failed"`
	Algorithm         string               `json:"algorithm"`
}

// StatsToDTO converts a service.SystemStats to its wire representation.
func StatsToDTO(s service.SystemStats) SystemStatsResponse {
	counts := make(map[string]int64, len(s.CountsByStatus))
	for status, n := range s.CountsByStatus {
		counts[string(status)] = n
	}
	pools := make([]WorkerPoolResponse, 0, len(s.Pools))
	for _, p := range s.Pools {
		pools = append(pools, WorkerPoolResponse{
			Name:               p.Name,
			Region:             p.Region,
			ResourceType:       p.ResourceType,
			Capacity:           p.Capacity,
			CurrentLoad:        p.CurrentLoad,
			UtilizationPercent: p.UtilizationPercent,
		})
	}
	return SystemStatsResponse{
		CountsByStatus:    counts,
		Pools:             pools,
		AverageLatencySec: s.AverageLatencySec,
		ThroughputPerMin:  s.ThroughputPerMin,
		QueueSize:         s.Queue.CurrentSize,
		QueueEnqueued:     s.Queue.Enqueued,
		QueueDequeued:     s.Queue.Dequeued,
		TasksScheduled:    s.TasksScheduled,
		TasksProcessed:    s.TasksProcessed,
		TasksFailed:       s.TasksFailed,
		Algorithm:         s.Algorithm,
	}
}

// HealthResponse is the wire shape of GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	RunnerActive bool   `json:"runner_active"`
	QueueSize    int    `json:"queue_size"`
}
