package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stitchline/stitchline/cmd/stitchline/cli"
	"github.com/stitchline/stitchline/internal/app"
	"github.com/stitchline/stitchline/internal/features"
	"github.com/stitchline/stitchline/internal/inventory"
	"github.com/stitchline/stitchline/internal/observability"
	"github.com/stitchline/stitchline/internal/orders"
	"github.com/stitchline/stitchline/internal/platform/cache"
	"github.com/stitchline/stitchline/internal/platform/db"
	"github.com/stitchline/stitchline/internal/production"
	"github.com/stitchline/stitchline/internal/shared"
	"github.com/stitchline/stitchline/jobs"
	"github.com/stitchline/stitchline/report"
)

const usage = `usage: stitchline [command]

commands:
  serve                          run the HTTP server (default)
  migrate                        apply the embedded schema
  ledger-replay [-store ID] [-json]
                                 replay ledgers and report stock drift
  jobs trigger NAME [-store ID]  enqueue reconcile or low-stock
  jobs stats                     print default queue counters
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		if err := serve(ctx, stop, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "migrate":
		os.Exit(runMigrate(ctx, cfg, logger))
	case "ledger-replay":
		os.Exit(runLedgerReplay(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		return err
	}
	defer dbpool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.Redis()); err != nil {
		logger.Warn("redis unavailable, feature flag cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, inventory.ServiceConfig{
		Metrics: metrics.Domain,
		Logger:  logger,
	})

	featureService := features.NewService(features.NewRepository(dbpool), redisClient, features.Config{
		TTL:      cfg.FeatureCacheTTL,
		Defaults: map[string]bool{production.FlagInventoryEnforcement: true},
	}, logger)

	tickets, err := production.NewTicketRenderer(cfg.ScanBaseURL)
	if err != nil {
		return err
	}
	var pdf production.PDFPort
	if cfg.GotenbergURL != "" {
		pdf = report.NewClient(cfg.GotenbergURL, report.TicketPaper)
	}
	productionService := production.NewService(production.Deps{
		Repo:        production.NewRepository(dbpool),
		Orders:      orders.NewRepository(dbpool),
		Inventory:   inventoryService,
		Flags:       featureService,
		Audit:       auditLogger,
		Metrics:     metrics.Domain,
		Tickets:     tickets,
		PDF:         pdf,
		Assets:      production.NewHTTPAssetFetcher(cfg.AssetFetchTimeout, cfg.AssetMaxBytes),
		Idempotency: shared.NewIdempotencyStore(dbpool),
		Logger:      logger,
	}, production.ServiceConfig{
		ScanTokenTTL:      cfg.ScanTokenTTL,
		ConsumeOnComplete: cfg.ConsumeOnComplete,
		ReleaseOnCancel:   cfg.ReleaseOnCancel,
	})

	inspector := asynq.NewInspector(cache.QueueOpt(cfg.Redis()))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		InventoryHandler:  inventory.NewHandler(logger, inventoryService),
		ProductionHandler: production.NewHandler(logger, productionService),
		FeaturesHandler:   features.NewHandler(logger, featureService),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runMigrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return 1
	}
	logger.Info("schema applied")
	return 0
}

func runLedgerReplay(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("ledger-replay", flag.ContinueOnError)
	storeID := fs.String("store", "", "store id; empty replays every store")
	jsonOut := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()
	service := inventory.NewService(inventory.NewRepository(pool), nil, inventory.ServiceConfig{Logger: logger})
	return cli.NewLedgerOpsCLI(service).ReplayCommand(ctx, cli.LedgerReplayOptions{
		StoreID:    *storeID,
		JSONOutput: *jsonOut,
	})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	ops := cli.NewJobsCLI(cache.QueueOpt(cfg.Redis()))
	defer func() { _ = ops.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			return 2
		}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		storeID := fs.String("store", "", "store id; empty targets every store")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		return ops.TriggerCommand(ctx, args[1], *storeID, cli.JobsOptions{})
	case "stats":
		return ops.StatsCommand(ctx, cli.JobsOptions{})
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func connect(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return nil, err
	}
	return pool, nil
}
