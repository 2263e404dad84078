package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stitchline/stitchline/internal/shared"
)

func TestReplayMatchesStockTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mapProduct("prod-1", nil, f.sku, 1)

	_, err := f.svc.ReceiveStock(ctx, f.storeID, MovementInput{LocationID: f.locA, SkuID: f.sku, Qty: dec(10)})
	require.NoError(t, err)
	_, err = f.svc.ReceiveStock(ctx, f.storeID, MovementInput{LocationID: f.locB, SkuID: f.sku, Qty: dec(3)})
	require.NoError(t, err)
	batchID := f.repo.addBatch(f.storeID, BatchLine{ProductID: "prod-1", VariantID: "v", Qty: 4})
	_, err = f.svc.ReserveForBatch(ctx, f.storeID, batchID)
	require.NoError(t, err)
	_, err = f.svc.ConsumeBatch(ctx, f.storeID, batchID)
	require.NoError(t, err)
	other := f.repo.addBatch(f.storeID, BatchLine{ProductID: "prod-1", VariantID: "v", Qty: 2})
	_, err = f.svc.ReserveForBatch(ctx, f.storeID, other)
	require.NoError(t, err)

	entries, err := f.repo.StreamLedger(ctx, f.storeID)
	require.NoError(t, err)
	positions, err := Replay(entries)
	require.NoError(t, err)
	for key, pos := range positions {
		stock := f.repo.stockAt(key.LocationID, key.SkuID)
		require.True(t, stock.OnHand.Equal(pos.OnHand))
		require.True(t, stock.Reserved.Equal(pos.Reserved))
	}

	report, err := f.svc.Reconcile(ctx, f.storeID)
	require.NoError(t, err)
	require.Empty(t, report.Drift)
	require.Equal(t, 2, report.Rows)
}

func TestReconcileReportsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ReceiveStock(ctx, f.storeID, MovementInput{LocationID: f.locA, SkuID: f.sku, Qty: dec(10)})
	require.NoError(t, err)
	f.repo.setStock(f.storeID, f.locA, f.sku, 8, 0)

	report, err := f.svc.Reconcile(ctx, f.storeID)
	require.NoError(t, err)
	require.Len(t, report.Drift, 1)
	require.True(t, report.Drift[0].OnHandDiff.Equal(dec(-2)))
}

func TestReplayRejectsOverReservation(t *testing.T) {
	entries := []LedgerEntry{
		{ID: 1, LocationID: "a", SkuID: "s", Type: LedgerReceipt, Qty: dec(2)},
		{ID: 2, LocationID: "a", SkuID: "s", Type: LedgerReserve, Qty: dec(3)},
	}
	_, err := Replay(entries)
	require.Error(t, err)
	var replayErr *ReplayError
	require.True(t, errors.As(err, &replayErr))
	require.Equal(t, int64(2), replayErr.Entry.ID)
	require.ErrorIs(t, err, shared.ErrInventoryInvariant)
}

// poolReadsFail rejects reads made outside a transaction.
type poolReadsFail struct {
	*memoryRepo
}

func (poolReadsFail) StreamLedger(context.Context, string) ([]LedgerEntry, error) {
	return nil, errors.New("ledger read outside snapshot")
}

func (poolReadsFail) ListStock(context.Context, string, StockFilter) ([]Stock, error) {
	return nil, errors.New("stock read outside snapshot")
}

func TestReconcileReadsLedgerAndStockInOneTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ReceiveStock(ctx, f.storeID, MovementInput{LocationID: f.locA, SkuID: f.sku, Qty: dec(7)})
	require.NoError(t, err)

	svc := NewService(poolReadsFail{f.repo}, nil, ServiceConfig{})
	report, err := svc.Reconcile(ctx, f.storeID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Entries)
	require.Equal(t, 1, report.Rows)
	require.Empty(t, report.Drift)
}
