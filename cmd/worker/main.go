package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/stitchline/stitchline/internal/app"
	"github.com/stitchline/stitchline/internal/inventory"
	jobmetrics "github.com/stitchline/stitchline/internal/jobs"
	"github.com/stitchline/stitchline/internal/platform/cache"
	"github.com/stitchline/stitchline/internal/platform/db"
	"github.com/stitchline/stitchline/internal/shared"
	"github.com/stitchline/stitchline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), shared.NewAuditLogger(pool), inventory.ServiceConfig{Logger: logger})

	reconcileJob := jobs.NewStockReconcileJob(inventoryService, logger, metrics)
	lowStockJob := jobs.NewLowStockScanJob(inventoryService, logger, metrics)
	cleanupJob := &jobs.IdempotencyCleanupJob{
		Store:     shared.NewIdempotencyStore(pool),
		Retention: cfg.IdempotencyRetention,
		Logger:    logger,
		Metrics:   metrics,
	}

	reconcileTask, err := jobs.NewStockReconcileTask("")
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	lowStockTask, err := jobs.NewLowStockScanTask("")
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cache.QueueOpt(cfg.Redis()),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStockReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.LowStockCron, Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
