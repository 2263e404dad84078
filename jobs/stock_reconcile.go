package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/stitchline/stitchline/internal/inventory"
	jobmetrics "github.com/stitchline/stitchline/internal/jobs"
)

const defaultReconcileConcurrency = 4

// ReconcileService is the inventory surface the reconcile job needs.
type ReconcileService interface {
	ListStoreIDs(ctx context.Context) ([]string, error)
	Reconcile(ctx context.Context, storeID string) (inventory.ReconcileReport, error)
}

// StockReconcileJob replays every store's ledger and reports drift.
type StockReconcileJob struct {
	Service     ReconcileService
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewStockReconcileJob initialises the reconcile handler.
func NewStockReconcileJob(service ReconcileService, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockReconcileJob {
	return &StockReconcileJob{Service: service, Logger: logger, Metrics: metrics, Concurrency: defaultReconcileConcurrency}
}

// Handle executes the reconcile task.
func (j *StockReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("stock reconcile: handler not configured")
	}
	payload, err := decodeStorePayload(t)
	if err != nil {
		return fmt.Errorf("stock reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err = j.Run(ctx, payload.StoreID)
	return err
}

// Run reconciles one store, or all stores when storeID is empty.
func (j *StockReconcileJob) Run(ctx context.Context, storeID string) ([]inventory.ReconcileReport, error) {
	tracker := j.Metrics.Track(TaskStockReconcile)
	reports, err := j.run(ctx, storeID)
	return reports, tracker.End(err)
}

func (j *StockReconcileJob) run(ctx context.Context, storeID string) ([]inventory.ReconcileReport, error) {
	logger := j.logger()
	stores := []string{storeID}
	if storeID == "" {
		ids, err := j.Service.ListStoreIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("stock reconcile: list stores: %w", err)
		}
		stores = ids
	}

	limit := j.Concurrency
	if limit <= 0 {
		limit = defaultReconcileConcurrency
	}
	var (
		mu      sync.Mutex
		reports []inventory.ReconcileReport
		failed  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range stores {
		g.Go(func() error {
			report, err := j.Service.Reconcile(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Error("store reconcile failed", slog.String("store_id", id), slog.Any("error", err))
				failed = append(failed, fmt.Errorf("store %s: %w", id, err))
				return nil
			}
			j.Metrics.AddDrift(id, len(report.Drift))
			reports = append(reports, report)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}

	drift := 0
	for _, r := range reports {
		drift += len(r.Drift)
	}
	logger.Info("stock reconcile finished",
		slog.Int("stores", len(stores)),
		slog.Int("failed", len(failed)),
		slog.Int("drift_rows", drift))
	return reports, errors.Join(failed...)
}

func (j *StockReconcileJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default().With(slog.String("job", TaskStockReconcile))
	}
	return j.Logger.With(slog.String("job", TaskStockReconcile))
}
