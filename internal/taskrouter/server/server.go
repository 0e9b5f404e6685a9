// Package server composes TaskRouterX's store, queue, policy, executor,
// runner, HTTP surface and background jobs into one process.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskrouterx/taskrouterx/internal/platform/cache"
	platformconfig "github.com/taskrouterx/taskrouterx/internal/platform/config"
	"github.com/taskrouterx/taskrouterx/internal/platform/database"
	"github.com/taskrouterx/taskrouterx/internal/platform/health"
	"github.com/taskrouterx/taskrouterx/internal/platform/logger"
	"github.com/taskrouterx/taskrouterx/internal/platform/messaging/kafka"
	"github.com/taskrouterx/taskrouterx/internal/platform/metrics"
	"github.com/taskrouterx/taskrouterx/internal/platform/telemetry"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/adapters/archive"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/adapters/events"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/adapters/http/handlers"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/adapters/repository/postgres"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/app/service"
	taskrouterconfig "github.com/taskrouterx/taskrouterx/internal/taskrouter/config"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/policy"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/queue"
	"github.com/taskrouterx/taskrouterx/pkg/middleware"
)

// seedPool is one row of the startup seed table.
type seedPool struct {
	region       model.Region
	resourceType model.ResourceType
	capacity     int
	costPerUnit  float64
}

// defaultSeed is the eight region x resource_type pools created on
// first boot.
var defaultSeed = []seedPool{
	{model.RegionUSEast, model.ResourceCPU, 10, 0.50},
	{model.RegionUSEast, model.ResourceGPU, 4, 2.10},
	{model.RegionUSWest, model.ResourceCPU, 8, 0.55},
	{model.RegionUSWest, model.ResourceGPU, 3, 2.20},
	{model.RegionEUWest, model.ResourceCPU, 7, 0.60},
	{model.RegionEUWest, model.ResourceGPU, 5, 2.00},
	{model.RegionAPEast, model.ResourceCPU, 6, 0.65},
	{model.RegionAPEast, model.ResourceGPU, 3, 2.30},
}

// Server wires and owns the full TaskRouterX process lifecycle.
type Server struct {
	cfg       *platformconfig.Config
	trCfg     taskrouterconfig.TaskRouterConfig
	log       logger.Logger
	telemetry *telemetry.Telemetry

	db     *database.DB
	cache  *cache.RedisCache
	kafka  *kafka.EventPublisher

	queue       *queue.Queue
	admission   *service.Admission
	stats       *service.Stats
	runner      *service.Runner
	maintenance *service.Maintenance
	metrics     *metrics.Metrics

	httpServer *http.Server
}

// Option configures a Server before Start.
type Option func(*Server)

// WithConfig sets the shared platform config.
func WithConfig(cfg *platformconfig.Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithTelemetry sets the telemetry handle.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Server) { s.telemetry = tel }
}

// tracer returns the configured OpenTelemetry tracer, falling back to
// the global tracer (a no-op unless a provider was registered) when
// telemetry is disabled or was never wired.
func (s *Server) tracer() trace.Tracer {
	if s.telemetry != nil {
		if t := s.telemetry.Tracer(); t != nil {
			return t
		}
	}
	return otel.Tracer("taskrouter")
}

// New builds and initializes a Server, seeding the store and starting
// background jobs but not yet accepting HTTP connections.
func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}

	trCfg, err := taskrouterconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("load taskrouter config: %w", err)
	}
	s.trCfg = trCfg

	if err := s.initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("initialize taskrouter server: %w", err)
	}
	return s, nil
}

func (s *Server) initialize(ctx context.Context) error {
	db, err := database.New(s.cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = db

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	taskRepo := postgres.NewTaskRepository(db)
	poolRepo := postgres.NewWorkerPoolRepository(db)
	logRepo := postgres.NewScheduleLogRepository(db)

	if err := seedWorkerPools(ctx, poolRepo, s.log); err != nil {
		return fmt.Errorf("seed worker pools: %w", err)
	}

	s.queue = queue.New(s.trCfg.QueueCapacity)

	if s.trCfg.ResetOrphansOnBoot {
		// No executors are running yet, so resetting every processing row
		// and zeroing loads outright is safe here. The reset rows come back
		// as queued and are picked up by the requeue below.
		ids, err := taskRepo.ResetOrphans(ctx, 0)
		if err != nil {
			s.log.Error("boot orphan reset failed", "error", err)
		} else if len(ids) > 0 {
			s.log.Warn("reset orphaned tasks on boot", "count", len(ids))
		}
		if err := poolRepo.ZeroAllLoads(ctx); err != nil {
			s.log.Error("boot pool load reset failed", "error", err)
		}
	}

	// The in-process queue is empty on every boot; refill it from the
	// store so queued tasks survive a restart in admission order.
	if queued, err := taskRepo.QueuedIDs(ctx); err != nil {
		s.log.Error("failed to reload queued tasks", "error", err)
	} else {
		for _, id := range queued {
			if err := s.queue.Enqueue(id); err != nil {
				s.log.Error("failed to re-enqueue persisted task on boot", "task_id", id, "error", err)
				break
			}
		}
		if len(queued) > 0 {
			s.log.Info("reloaded queued tasks from store", "count", len(queued))
		}
	}

	s.metrics = metrics.NewMetrics("taskrouter")

	var eventPublisher service.EventPublisher
	if len(s.cfg.Kafka.Brokers) > 0 {
		pub, err := kafka.NewEventPublisher(&kafka.Config{
			Brokers: s.cfg.Kafka.Brokers,
			Topic:   "taskrouterx.task.events",
		})
		if err != nil {
			s.log.Warn("kafka publisher unavailable, task events will not be published", "error", err)
		} else {
			s.kafka = pub
			eventPublisher = events.NewKafkaEventPublisher(pub, s.log)
		}
	}

	algorithm := policy.Strategy(s.trCfg.DefaultAlgorithm)
	if !algorithm.Valid() {
		s.log.Warn("unknown default_algorithm, falling back to fifo", "configured", s.trCfg.DefaultAlgorithm)
		algorithm = policy.StrategyFIFO
	}

	execCfg := service.ExecutorConfig{
		FailureRate: s.trCfg.FailureRate,
		MinLatency:  s.trCfg.MinLatency,
		MaxLatency:  s.trCfg.MaxLatency,
	}
	executor := service.NewExecutor(taskRepo, poolRepo, logRepo, execCfg, s.log, eventPublisher)
	executor.SetMetrics(s.metrics)
	executor.SetTracer(s.tracer())

	poolCount := len(defaultSeed)
	runnerCfg := service.RunnerConfig{
		PollInterval:            s.trCfg.PollInterval,
		RequeueBackoff:          s.trCfg.RequeueBackoff,
		DefaultAlgorithm:        algorithm,
		MaxConcurrentExecutions: poolCount * maxInt(s.trCfg.ExecutorPoolFactor, 1) * 4,
	}
	s.runner = service.NewRunner(s.queue, taskRepo, poolRepo, executor, runnerCfg, s.log, eventPublisher)
	s.runner.SetMetrics(s.metrics)
	s.runner.SetTracer(s.tracer())

	s.admission = service.NewAdmission(taskRepo, logRepo, s.queue, s.log, eventPublisher)
	s.stats = service.NewStats(taskRepo, poolRepo, s.queue, s.runner)
	s.stats.SetWindow(s.trCfg.StatsWindow)

	var archiver service.Archiver
	if s.trCfg.ArchiveEnabled {
		a, err := archive.NewArchiver(ctx, logRepo, archive.Config{
			Bucket:        s.trCfg.ArchiveBucket,
			Region:        s.trCfg.ArchiveRegion,
			CutoffSeconds: s.trCfg.ArchiveCutoffSeconds,
		}, s.log)
		if err != nil {
			s.log.Warn("archiver unavailable, schedule logs will not be archived", "error", err)
		} else {
			archiver = a
		}
	}

	var redisCache *cache.RedisCache
	if s.trCfg.CacheEnabled {
		c, err := cache.NewRedisCache(cache.Config{
			Host:      s.cfg.Redis.Host,
			Port:      s.cfg.Redis.Port,
			Password:  s.cfg.Redis.Password,
			DB:        s.cfg.Redis.DB,
			KeyPrefix: "taskrouter",
		})
		if err != nil {
			s.log.Warn("redis cache unavailable, stats will not be cached", "error", err)
		} else {
			s.cache = c
			redisCache = c
		}
	}

	s.maintenance = service.NewMaintenance(taskRepo, poolRepo, s.queue, s.stats, archiver, redisCache, service.DefaultMaintenanceConfig(), s.log)
	s.maintenance.SetMetrics(s.metrics)

	handler := handlers.NewTaskRouterHandler(s.admission, s.stats, s.runner, s.maintenance, taskRepo, logRepo, poolRepo, s.log)
	s.setupHTTPServer(handler)

	return nil
}

func seedWorkerPools(ctx context.Context, pools postgresPoolSaver, log logger.Logger) error {
	for _, p := range defaultSeed {
		name := fmt.Sprintf("%s-%s-pool", p.region, p.resourceType)
		pool, err := model.NewWorkerPool(name, p.region, p.resourceType, p.costPerUnit, p.capacity)
		if err != nil {
			return fmt.Errorf("build seed pool %s: %w", name, err)
		}
		if err := pools.Save(ctx, pool); err != nil {
			return fmt.Errorf("save seed pool %s: %w", name, err)
		}
	}
	log.Info("worker pools seeded", "count", len(defaultSeed))
	return nil
}

// postgresPoolSaver is the narrow slice of WorkerPoolRepository the seed
// step needs; kept as an interface so seedWorkerPools is testable
// against a fake.
type postgresPoolSaver interface {
	Save(ctx context.Context, pool *model.WorkerPool) error
}

func (s *Server) setupHTTPServer(handler *handlers.TaskRouterHandler) {
	router := mux.NewRouter()
	router.Use(middleware.Logging(&middleware.LoggingConfig{Logger: s.log, SkipPaths: []string{"/metrics", "/health/live", "/health/ready"}}))
	router.Use(middleware.CORS(nil))
	router.Use(middleware.RateLimit(&middleware.RateLimitConfig{
		RequestsPerMinute: 600,
		BurstSize:         200,
		SkipPaths:         []string{"/metrics", "/health/live", "/health/ready"},
	}))
	router.Use(s.metrics.HTTPMetricsMiddleware())
	router.Use(middleware.Recovery(&middleware.RecoveryConfig{Logger: s.log, StackTrace: true}))

	probe := s.healthProbe()
	router.HandleFunc("/health/live", probe.LivenessHandler()).Methods("GET")
	router.HandleFunc("/health/ready", probe.ReadinessHandler()).Methods("GET")
	router.Handle("/metrics", s.metrics.Handler())

	handler.RegisterRoutes(router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.HTTP.Host, s.cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}
}

// healthProbe registers the checks that /health/ready runs: store
// reachability, cache reachability (only when the Redis cache is
// enabled), queue responsiveness, runner loop state. /health/live runs
// no checks.
func (s *Server) healthProbe() *health.Handler {
	probe := health.NewHandler("taskrouter", s.cfg.Version)
	probe.AddCheck("store", health.DatabaseChecker(s.db.HealthCheck))
	if s.cache != nil {
		probe.AddCheck("cache", health.RedisChecker(s.cache.Health))
	}
	probe.AddCheck("queue", func(ctx context.Context) error {
		_ = s.queue.Size()
		return nil
	})
	probe.AddCheck("runner", func(ctx context.Context) error {
		if !s.runner.IsRunning() {
			return errRunnerStopped
		}
		return nil
	})
	return probe
}

var errRunnerStopped = fmt.Errorf("dispatch loop is not running")

// Start launches the runner, maintenance jobs and HTTP server. Blocks on
// ListenAndServe until Shutdown is called.
func (s *Server) Start() error {
	ctx := context.Background()
	s.runner.Start(ctx)
	if err := s.maintenance.Start(ctx); err != nil {
		s.log.Error("maintenance jobs failed to start", "error", err)
	}
	s.log.Info("starting taskrouter HTTP server", "port", s.cfg.HTTP.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, background jobs and
// dispatch loop, then closes external connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("HTTP server shutdown error", "error", err)
	}

	s.maintenance.Stop()
	s.runner.Stop(10 * time.Second)

	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.log.Error("kafka publisher close error", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Error("redis cache close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Error("database close error", "error", err)
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
