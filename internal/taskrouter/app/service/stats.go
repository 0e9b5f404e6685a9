package service

import (
	"context"
	"time"

	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/queue"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// PoolStats reports one worker pool's load.
type PoolStats struct {
	Name               string  `json:"name"`
	Region             string  `json:"region"`
	ResourceType       string  `json:"resource_type"`
	Capacity           int     `json:"capacity"`
	CurrentLoad        int     `json:"current_load"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// SystemStats is the aggregate returned by GET /api/v1/system/stats.
type SystemStats struct {
	CountsByStatus    map[model.TaskStatus]int64 `json:"counts_by_status"`
	Pools             []PoolStats                `json:"pools"`
	AverageLatencySec float64                    `json:"average_latency_seconds"`
	ThroughputPerMin  float64                    `json:"throughput_per_minute"`
	Queue             queue.Stats                `json:"queue"`
	TasksScheduled    int64                      `json:"tasks_scheduled"`
	TasksProcessed    int64                      `json:"tasks_processed"`
	TasksFailed       int64                      `json:"tasks_failed"`
	Algorithm         string                     `json:"algorithm"`
}

// Health reports process liveness for GET /api/v1/health.
type Health struct {
	Status       string `json:"status"`
	RunnerActive bool   `json:"runner_active"`
	QueueSize    int    `json:"queue_size"`
}

// Stats aggregates read-side views across the task store, worker pool
// store and the in-process queue and runner counters.
type Stats struct {
	tasks  repository.TaskRepository
	pools  repository.WorkerPoolRepository
	q      *queue.Queue
	runner *Runner
	window time.Duration
}

// NewStats constructs a Stats aggregator with the default throughput
// window.
func NewStats(tasks repository.TaskRepository, pools repository.WorkerPoolRepository, q *queue.Queue, runner *Runner) *Stats {
	return &Stats{tasks: tasks, pools: pools, q: q, runner: runner, window: DefaultStatsWindow}
}

// SetWindow overrides the throughput measurement window.
func (s *Stats) SetWindow(window time.Duration) {
	if window > 0 {
		s.window = window
	}
}

// DefaultStatsWindow is the default throughput measurement window.
const DefaultStatsWindow = 5 * time.Minute

// Snapshot gathers the full SystemStats view.
func (s *Stats) Snapshot(ctx context.Context) (SystemStats, error) {
	counts, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return SystemStats{}, err
	}

	poolSnapshots, err := s.pools.Snapshot(ctx)
	if err != nil {
		return SystemStats{}, err
	}
	pools := make([]PoolStats, 0, len(poolSnapshots))
	for _, p := range poolSnapshots {
		pools = append(pools, PoolStats{
			Name:               p.Name,
			Region:             string(p.Region),
			ResourceType:       string(p.ResourceType),
			Capacity:           p.Capacity,
			CurrentLoad:        p.CurrentLoad,
			UtilizationPercent: p.UtilizationPercent(),
		})
	}

	avgLatency, err := s.tasks.AverageCompletedLatency(ctx)
	if err != nil {
		return SystemStats{}, err
	}
	throughput, err := s.tasks.ThroughputPerMinute(ctx, s.window.Seconds())
	if err != nil {
		return SystemStats{}, err
	}

	counters := s.runner.Counters()

	return SystemStats{
		CountsByStatus:    counts,
		Pools:             pools,
		AverageLatencySec: avgLatency,
		ThroughputPerMin:  throughput,
		Queue:             s.q.GetStats(),
		TasksScheduled:    counters.TasksScheduled,
		TasksProcessed:    counters.TasksProcessed,
		TasksFailed:       counters.TasksFailed,
		Algorithm:         string(s.runner.Algorithm()),
	}, nil
}

// Liveness reports whether the runner's dispatch loop is active.
func (s *Stats) Liveness() Health {
	status := "ok"
	if !s.runner.IsRunning() {
		status = "degraded"
	}
	return Health{
		Status:       status,
		RunnerActive: s.runner.IsRunning(),
		QueueSize:    s.q.Size(),
	}
}
