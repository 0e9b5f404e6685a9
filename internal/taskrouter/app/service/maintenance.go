package service

import (
	"context"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/taskrouterx/taskrouterx/internal/platform/cache"
	"github.com/taskrouterx/taskrouterx/internal/platform/logger"
	"github.com/taskrouterx/taskrouterx/internal/platform/metrics"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/queue"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// Archiver is the narrow interface Maintenance needs from the S3 log
// archiver, kept here so app/service doesn't import the adapters
// package directly.
type Archiver interface {
	Sweep(ctx context.Context) (int, error)
}

// MaintenanceConfig tunes the background jobs.
type MaintenanceConfig struct {
	OrphanSweepCron string
	// OrphanAge is how long a task may sit in processing before the
	// sweep treats it as abandoned. Must comfortably exceed the
	// executor's max latency or the sweep would steal live work.
	OrphanAge      time.Duration
	ArchiveCron    string
	HostSampleCron string
}

// DefaultMaintenanceConfig: frequent enough to bound processing-state
// staleness, infrequent enough not to compete with the dispatch loop
// for the store.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		OrphanSweepCron: "@every 1m",
		OrphanAge:       10 * time.Minute,
		ArchiveCron:     "@every 1h",
		HostSampleCron:  "@every 30s",
	}
}

// HostSample is a point-in-time read of the host's own load, used only
// to annotate the stats cache; it never feeds scheduling decisions
// (those depend solely on worker pool capacity).
type HostSample struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Maintenance runs the periodic housekeeping jobs that sit alongside
// the Runner's dispatch loop: resetting orphaned tasks if the process
// crashed mid-claim, archiving old schedule logs, and refreshing a
// cached stats snapshot plus host load sample in Redis.
type Maintenance struct {
	cron       *cron.Cron
	tasks      repository.TaskRepository
	pools      repository.WorkerPoolRepository
	q          *queue.Queue
	stats      *Stats
	archiver   Archiver
	rediscache *cache.RedisCache
	cfg        MaintenanceConfig
	log        logger.Logger
	metrics    *metrics.Metrics
}

// SetMetrics attaches a Prometheus metrics sink for the host resource
// gauges. Optional.
func (m *Maintenance) SetMetrics(mx *metrics.Metrics) {
	m.metrics = mx
}

// NewMaintenance constructs a Maintenance scheduler. archiver and
// rediscache may be nil to disable the corresponding job (e.g. in
// environments without S3 or Redis configured).
func NewMaintenance(tasks repository.TaskRepository, pools repository.WorkerPoolRepository, q *queue.Queue, stats *Stats, archiver Archiver, rediscache *cache.RedisCache, cfg MaintenanceConfig, log logger.Logger) *Maintenance {
	return &Maintenance{
		cron:       cron.New(),
		tasks:      tasks,
		pools:      pools,
		q:          q,
		stats:      stats,
		archiver:   archiver,
		rediscache: rediscache,
		cfg:        cfg,
		log:        log,
	}
}

// Start registers and runs all maintenance jobs.
func (m *Maintenance) Start(ctx context.Context) error {
	if _, err := m.cron.AddFunc(m.cfg.OrphanSweepCron, func() { m.sweepOrphans(ctx) }); err != nil {
		return err
	}
	if m.archiver != nil {
		if _, err := m.cron.AddFunc(m.cfg.ArchiveCron, func() { m.sweepArchive(ctx) }); err != nil {
			return err
		}
	}
	if m.cfg.HostSampleCron != "" {
		if _, err := m.cron.AddFunc(m.cfg.HostSampleCron, func() { m.refresh(ctx) }); err != nil {
			return err
		}
	}
	m.cron.Start()
	m.log.Info("maintenance jobs started")
	return nil
}

// Stop drains running jobs and halts the scheduler.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
	m.log.Info("maintenance jobs stopped")
}

func (m *Maintenance) sweepOrphans(ctx context.Context) {
	ids, err := m.tasks.ResetOrphans(ctx, m.cfg.OrphanAge)
	if err != nil {
		m.log.Error("orphan sweep failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	m.log.Warn("reset orphaned tasks to queued", "count", len(ids))
	for _, id := range ids {
		if err := m.q.Enqueue(id); err != nil {
			m.log.Error("failed to re-enqueue orphaned task", "task_id", id, "error", err)
		}
	}
}

func (m *Maintenance) sweepArchive(ctx context.Context) {
	n, err := m.archiver.Sweep(ctx)
	if err != nil {
		m.log.Error("archive sweep failed", "error", err)
		return
	}
	if n > 0 {
		m.log.Info("archived schedule logs", "count", n)
	}
}

const statsSnapshotCacheKey = "taskrouter:stats:snapshot"

// refresh samples host load into the Prometheus gauges and, when Redis
// is configured, refreshes the cached stats snapshot the stats endpoint
// serves from.
func (m *Maintenance) refresh(ctx context.Context) {
	sample := sampleHost()
	if m.metrics != nil {
		m.metrics.SystemCPUUsage.WithLabelValues().Set(sample.CPUPercent)
		m.metrics.SystemMemoryUsage.WithLabelValues().Set(sample.MemoryPercent)
		m.metrics.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	}

	if m.rediscache == nil {
		return
	}

	snapshot, err := m.stats.Snapshot(ctx)
	if err != nil {
		m.log.Error("stats refresh failed", "error", err)
		return
	}
	if err := m.rediscache.Set(ctx, statsSnapshotCacheKey, snapshot, 30*time.Second); err != nil {
		m.log.Error("failed to cache stats snapshot", "error", err)
	}
	if err := m.rediscache.Set(ctx, "taskrouter:host:sample", sample, 30*time.Second); err != nil {
		m.log.Error("failed to cache host sample", "error", err)
	}
}

func sampleHost() HostSample {
	sample := HostSample{SampledAt: time.Now().UTC()}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}
	if v, err := mem.VirtualMemory(); err == nil {
		sample.MemoryPercent = v.UsedPercent
	}
	return sample
}

// CachedSnapshot returns the last Redis-cached SystemStats snapshot, or
// ErrCacheMiss if refresh hasn't run yet. GET /api/v1/system/stats
// falls back to a live Snapshot when this misses.
func (m *Maintenance) CachedSnapshot(ctx context.Context) (SystemStats, error) {
	var snapshot SystemStats
	if m.rediscache == nil {
		return snapshot, cache.ErrCacheMiss
	}
	err := m.rediscache.Get(ctx, statsSnapshotCacheKey, &snapshot)
	return snapshot, err
}
