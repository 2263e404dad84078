package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stitchline/stitchline/internal/inventory"
	jobmetrics "github.com/stitchline/stitchline/internal/jobs"
)

// LowStockService is the inventory surface the low-stock scan needs.
type LowStockService interface {
	ListStoreIDs(ctx context.Context) ([]string, error)
	ListLowStock(ctx context.Context, storeID string) ([]inventory.LowStockRow, error)
}

// LowStockScanJob logs and gauges SKUs whose free quantity fell below the reorder point.
type LowStockScanJob struct {
	Service LowStockService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the low-stock handler.
func NewLowStockScanJob(service LowStockService, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the low-stock task.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("low stock scan: handler not configured")
	}
	payload, err := decodeStorePayload(t)
	if err != nil {
		return fmt.Errorf("low stock scan: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err = j.Run(ctx, payload.StoreID)
	return err
}

// Run scans one store, or all stores when storeID is empty, and returns the rows found.
func (j *LowStockScanJob) Run(ctx context.Context, storeID string) (rows []inventory.LowStockRow, resultErr error) {
	tracker := j.Metrics.Track(TaskLowStockScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskLowStockScan))

	stores := []string{storeID}
	if storeID == "" {
		ids, err := j.Service.ListStoreIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("low stock scan: list stores: %w", err)
		}
		stores = ids
	}
	for _, id := range stores {
		low, err := j.Service.ListLowStock(ctx, id)
		if err != nil {
			return rows, fmt.Errorf("low stock scan: store %s: %w", id, err)
		}
		j.Metrics.SetLowStock(id, len(low))
		for _, row := range low {
			logger.Warn("sku below reorder point",
				slog.String("store_id", id),
				slog.String("sku_id", row.SkuID),
				slog.String("code", row.Code),
				slog.String("available", row.Available.String()),
				slog.String("reorder_point", row.ReorderPoint.String()),
				slog.String("reorder_qty", row.ReorderQty.String()))
		}
		rows = append(rows, low...)
	}
	logger.Info("low stock scan finished", slog.Int("stores", len(stores)), slog.Int("skus", len(rows)))
	return rows, nil
}
