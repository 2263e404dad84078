package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchline/stitchline/internal/inventory"
	jobmetrics "github.com/stitchline/stitchline/internal/jobs"
)

type fakeInventory struct {
	mu        sync.Mutex
	stores    []string
	reports   map[string]inventory.ReconcileReport
	failStore string
	low       map[string][]inventory.LowStockRow
	calls     []string
}

func (f *fakeInventory) ListStoreIDs(context.Context) ([]string, error) {
	return f.stores, nil
}

func (f *fakeInventory) Reconcile(_ context.Context, storeID string) (inventory.ReconcileReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, storeID)
	f.mu.Unlock()
	if storeID == f.failStore {
		return inventory.ReconcileReport{}, errors.New("replay failed")
	}
	return f.reports[storeID], nil
}

func (f *fakeInventory) ListLowStock(_ context.Context, storeID string) ([]inventory.LowStockRow, error) {
	return f.low[storeID], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStockReconcileAllStores(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	inv := &fakeInventory{
		stores: []string{"s1", "s2"},
		reports: map[string]inventory.ReconcileReport{
			"s1": {StoreID: "s1", Entries: 4, Rows: 2},
			"s2": {StoreID: "s2", Entries: 1, Rows: 1, Drift: []inventory.Drift{{SkuID: "sku-1", LocationID: "loc-1"}}},
		},
	}
	job := NewStockReconcileJob(inv, quietLogger(), metrics)

	reports, err := job.Run(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, reports, 2)

	sort.Strings(inv.calls)
	assert.Equal(t, []string{"s1", "s2"}, inv.calls)

	n, err := testutil.GatherAndCount(reg, "stitchline_ledger_drift_rows_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStockReconcileJoinsStoreFailures(t *testing.T) {
	inv := &fakeInventory{
		stores:    []string{"s1", "s2"},
		reports:   map[string]inventory.ReconcileReport{"s1": {StoreID: "s1"}},
		failStore: "s2",
	}
	job := NewStockReconcileJob(inv, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	reports, err := job.Run(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store s2")
	assert.Len(t, reports, 1)
}

func TestStockReconcileHandleSingleStore(t *testing.T) {
	inv := &fakeInventory{reports: map[string]inventory.ReconcileReport{"s9": {StoreID: "s9"}}}
	job := NewStockReconcileJob(inv, quietLogger(), nil)

	task, err := NewStockReconcileTask("s9")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []string{"s9"}, inv.calls)
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	job := NewStockReconcileJob(&fakeInventory{}, quietLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskStockReconcile, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestLowStockScanSetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	inv := &fakeInventory{
		stores: []string{"s1", "s2"},
		low: map[string][]inventory.LowStockRow{
			"s1": {
				{StoreID: "s1", SkuID: "a", Code: "INK-BLK", Available: decimal.NewFromInt(2), ReorderPoint: decimal.NewFromInt(5)},
				{StoreID: "s1", SkuID: "b", Code: "THR-RED", Available: decimal.Zero, ReorderPoint: decimal.NewFromInt(1)},
			},
		},
	}
	job := NewLowStockScanJob(inv, quietLogger(), metrics)

	rows, err := job.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	expected := `
# HELP stitchline_low_stock_skus SKUs whose free quantity is below the reorder point, per store.
# TYPE stitchline_low_stock_skus gauge
stitchline_low_stock_skus{store_id="s1"} 2
stitchline_low_stock_skus{store_id="s2"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "stitchline_low_stock_skus"))
}

func TestStorePayloadRoundTrip(t *testing.T) {
	task, err := NewLowStockScanTask("s3")
	require.NoError(t, err)
	assert.Equal(t, TaskLowStockScan, task.Type())
	payload, err := decodeStorePayload(task)
	require.NoError(t, err)
	assert.Equal(t, "s3", payload.StoreID)
}

type fakeCleaner struct {
	olderThan time.Duration
	err       error
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 3, f.err
}

func TestIdempotencyCleanupUsesDefaultRetention(t *testing.T) {
	reg := prometheus.NewRegistry()
	cleaner := &fakeCleaner{}
	job := &IdempotencyCleanupJob{Store: cleaner, Logger: quietLogger(), Metrics: jobmetrics.NewMetrics(reg)}

	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	assert.Equal(t, 72*time.Hour, cleaner.olderThan)

	cleaner.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	n, err := testutil.GatherAndCount(reg, "stitchline_jobs_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
