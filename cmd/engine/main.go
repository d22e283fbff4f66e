package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/lyzr/workflow-engine/common/config"
	"github.com/lyzr/workflow-engine/common/db"
	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/common/metrics"
	"github.com/lyzr/workflow-engine/coordinator"
	"github.com/lyzr/workflow-engine/eventbus"
	"github.com/lyzr/workflow-engine/integrations"
	"github.com/lyzr/workflow-engine/scheduler"
	"github.com/lyzr/workflow-engine/statemachine"
	"github.com/lyzr/workflow-engine/storage"
	"github.com/lyzr/workflow-engine/triggers"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	m := metrics.New("workflow_engine")

	// Storage: Postgres when configured, in-memory otherwise
	var (
		workflowRepo  storage.WorkflowRepository
		executionRepo storage.ExecutionRepository
	)
	if cfg.Database.Enabled {
		database, err := db.New(ctx, cfg, log)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()

		if err := storage.EnsureSchema(ctx, database); err != nil {
			log.Error("failed to ensure storage schema", "error", err)
			os.Exit(1)
		}
		workflowRepo = storage.NewPostgresWorkflowRepository(database)
		executionRepo = storage.NewPostgresExecutionRepository(database)
	} else {
		workflowRepo = storage.NewMemoryWorkflowRepository()
		executionRepo = storage.NewMemoryExecutionRepository()
	}

	// Event sink: Redis when configured, in-memory otherwise
	var sink eventbus.Sink
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		sink = eventbus.NewRedisSink(client, log)
	} else {
		sink = eventbus.NewMemorySink(log)
	}
	bus := eventbus.NewBus(eventbus.Opts{Sink: sink, Logger: log, Metrics: m})
	defer bus.Close()

	resources := scheduler.NewResourceManager(scheduler.Quota{
		MaxConcurrentTasks: cfg.Engine.MaxConcurrentTasks,
		MaxTasksPerType:    cfg.Engine.MaxTasksPerType,
		MaxTasksPerAgent:   cfg.Engine.MaxTasksPerAgent,
	})

	runtime := integrations.NewRuntime(log)

	coord := coordinator.New(coordinator.Opts{
		Workflows:          workflowRepo,
		Executions:         executionRepo,
		Runtime:            runtime,
		Bus:                bus,
		Logger:             log,
		Metrics:            m,
		Resources:          resources,
		SchedulerInterval:  cfg.Engine.SchedulerInterval,
		DefaultNodeTimeout: cfg.Engine.DefaultNodeTimeout,
	})

	for key, rate := range cfg.Engine.RateLimits {
		coord.Scheduler().SetRateLimiter(key, rate, time.Second)
	}

	smEngine := statemachine.NewEngine(statemachine.Opts{
		Bus:     bus,
		Logger:  log,
		Metrics: m,
	})

	cronRunner := triggers.NewCronRunner(coord, log)

	coord.Start(ctx)
	defer coord.Stop()
	cronRunner.Start()
	defer cronRunner.Stop()

	// Periodic cleanup of old terminal executions
	if cfg.Engine.ExecutionRetention > 0 {
		go runCleanup(ctx, coord, cfg.Engine.ExecutionRetention, log)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())

	h := newHandler(coord, smEngine, cronRunner, workflowRepo, executionRepo, m)
	h.register(e, cfg)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Service.Port)
		log.Info("engine listening", "addr", addr)
		if err := e.Start(addr); err != nil {
			log.Info("http server stopped", "reason", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
}

func runCleanup(ctx context.Context, coord *coordinator.Coordinator, retention time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := coord.CleanupExecutions(ctx, retention)
			if err != nil {
				log.Error("execution cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("cleaned up old executions", "removed", removed)
			}
		}
	}
}
