package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stitchline/stitchline/internal/shared"
)

// ReserveForBatch converges every (batch, sku) reservation to the batch's current requirements.
//
// Each requirement is held at the location chosen by the picker. When the
// location cannot cover the requirement the reservation holds what is free and
// the batch is marked LOW_STOCK. HELD reservations for SKUs the batch no longer
// requires are released. Re-running with unchanged requirements writes no stock
// or ledger changes.
func (s *Service) ReserveForBatch(ctx context.Context, storeID, batchID string) (ReservationResult, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return ReservationResult{}, err
	}
	var result ReservationResult
	var ledgerTypes []LedgerType
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ReservationResult{BatchID: batchID}
		ledgerTypes = ledgerTypes[:0]
		batch, err := tx.GetBatchForUpdate(ctx, storeID, batchID)
		if err != nil {
			return err
		}
		lines, err := tx.ListBatchLines(ctx, batch.ID)
		if err != nil {
			return err
		}
		maps, err := tx.ListMaterialMaps(ctx, storeID, productIDs(lines))
		if err != nil {
			return err
		}
		result.Requirements = ResolveRequirements(lines, maps)

		stale, err := releaseUnrequired(ctx, tx, batch, result.Requirements)
		if err != nil {
			return err
		}
		for range stale {
			ledgerTypes = append(ledgerTypes, LedgerRelease)
		}
		result.Released = stale

		if len(result.Requirements) == 0 {
			result.Status = StatusNotMapped
			return tx.SetBatchInventoryStatus(ctx, batch.ID, StatusNotMapped)
		}

		for _, req := range result.Requirements {
			res, shortage, types, err := s.holdRequirement(ctx, tx, batch, req)
			if err != nil {
				return err
			}
			ledgerTypes = append(ledgerTypes, types...)
			if res != nil {
				result.Reservations = append(result.Reservations, *res)
			}
			if shortage != nil {
				result.Shortages = append(result.Shortages, *shortage)
			}
		}

		result.Status = StatusOK
		if len(result.Shortages) > 0 {
			result.Status = StatusLowStock
		}
		return tx.SetBatchInventoryStatus(ctx, batch.ID, result.Status)
	})
	if err != nil {
		return ReservationResult{}, err
	}
	for _, t := range ledgerTypes {
		s.observeLedger(t)
	}
	if s.metrics != nil {
		s.metrics.ObserveReservation(string(result.Status))
	}
	s.logger.InfoContext(ctx, "batch reserved",
		slog.String("store_id", storeID),
		slog.String("batch_id", batchID),
		slog.String("inventory_status", string(result.Status)),
		slog.Int("requirements", len(result.Requirements)),
		slog.Int("shortages", len(result.Shortages)))
	return result, nil
}

func (s *Service) holdRequirement(ctx context.Context, tx TxRepository, batch BatchRef, req Requirement) (*Reservation, *Shortage, []LedgerType, error) {
	existing, err := tx.GetReservationForUpdate(ctx, batch.ID, req.SkuID)
	hasExisting := err == nil
	if err != nil && !errors.Is(err, ErrReservationNotFound) {
		return nil, nil, nil, err
	}
	if hasExisting && existing.Status == ReservationFulfilled {
		return &existing, nil, nil, nil
	}
	prevHeld := decimal.Zero
	prevLoc := ""
	if hasExisting && existing.Status == ReservationHeld {
		prevHeld = existing.Qty
		prevLoc = existing.LocationID
	}

	candidates, err := tx.ListStockForSku(ctx, batch.StoreID, req.SkuID)
	if err != nil {
		return nil, nil, nil, err
	}
	credited := make([]Stock, len(candidates))
	for i, c := range candidates {
		if c.LocationID == prevLoc {
			c.Reserved = c.Reserved.Sub(prevHeld)
		}
		credited[i] = c
	}

	alloc, ok := s.picker.Pick(req.Qty, credited)
	if !ok {
		return nil, &Shortage{SkuID: req.SkuID, Required: req.Qty, Held: decimal.Zero}, nil, nil
	}

	var target Stock
	for _, c := range credited {
		if c.LocationID == alloc.LocationID {
			target = c
			break
		}
	}
	if target.LocationID == "" {
		return nil, nil, nil, fmt.Errorf("inventory: picker chose unknown location %s for sku %s", alloc.LocationID, req.SkuID)
	}
	newQty := decimal.Min(req.Qty, decimal.Max(target.Available(), decimal.Zero))

	meta := map[string]any{"batch_id": batch.ID, "required": req.Qty.String()}
	var types []LedgerType
	if prevLoc != "" && prevLoc != target.LocationID && prevHeld.IsPositive() {
		if _, err := applyMovement(ctx, tx, movementParams{
			StoreID:       batch.StoreID,
			LocationID:    prevLoc,
			SkuID:         req.SkuID,
			ReservedDelta: prevHeld.Neg(),
			Type:          LedgerRelease,
			Qty:           prevHeld.Neg(),
			RefType:       RefBatch,
			RefID:         batch.ID,
			Meta:          meta,
		}); err != nil {
			return nil, nil, nil, err
		}
		types = append(types, LedgerRelease)
		prevHeld = decimal.Zero
	}

	delta := newQty.Sub(prevHeld)
	if !delta.IsZero() {
		entryType := LedgerReserve
		if delta.IsNegative() {
			entryType = LedgerRelease
		}
		if _, err := applyMovement(ctx, tx, movementParams{
			StoreID:       batch.StoreID,
			LocationID:    target.LocationID,
			SkuID:         req.SkuID,
			ReservedDelta: delta,
			Type:          entryType,
			Qty:           delta,
			RefType:       RefBatch,
			RefID:         batch.ID,
			Meta:          meta,
		}); err != nil {
			return nil, nil, nil, err
		}
		types = append(types, entryType)
	}

	var shortage *Shortage
	if !alloc.Sufficient || newQty.LessThan(req.Qty) {
		shortage = &Shortage{SkuID: req.SkuID, LocationID: target.LocationID, Required: req.Qty, Held: newQty}
	}
	if !hasExisting && newQty.IsZero() {
		return nil, shortage, types, nil
	}

	res := Reservation{
		StoreID:    batch.StoreID,
		BatchID:    batch.ID,
		SkuID:      req.SkuID,
		LocationID: target.LocationID,
		Qty:        newQty,
		Status:     ReservationHeld,
	}
	if hasExisting {
		res.ID = existing.ID
		res.CreatedAt = existing.CreatedAt
	} else {
		res.ID = uuid.NewString()
	}
	if newQty.IsZero() {
		res.Status = ReservationReleased
	}
	if err := tx.UpsertReservation(ctx, res); err != nil {
		return nil, nil, nil, err
	}
	return &res, shortage, types, nil
}

// ReleaseBatch frees every HELD reservation of the batch and resets its status to NOT_CHECKED.
func (s *Service) ReleaseBatch(ctx context.Context, storeID, batchID string) ([]Reservation, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return nil, err
	}
	var released []Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		released = released[:0]
		batch, err := tx.GetBatchForUpdate(ctx, storeID, batchID)
		if err != nil {
			return err
		}
		held, err := tx.ListReservationsForUpdate(ctx, batch.ID, ReservationHeld)
		if err != nil {
			return err
		}
		sortBySkuLocation(held)
		for _, res := range held {
			out, err := releaseReservation(ctx, tx, batch, res, "release")
			if err != nil {
				return err
			}
			released = append(released, out)
		}
		return tx.SetBatchInventoryStatus(ctx, batch.ID, StatusNotChecked)
	})
	if err != nil {
		return nil, err
	}
	for range released {
		s.observeLedger(LedgerRelease)
	}
	s.logger.InfoContext(ctx, "batch reservations released",
		slog.String("store_id", storeID),
		slog.String("batch_id", batchID),
		slog.Int("released", len(released)))
	return released, nil
}

// releaseUnrequired frees HELD reservations whose SKU is absent from reqs.
func releaseUnrequired(ctx context.Context, tx TxRepository, batch BatchRef, reqs []Requirement) ([]Reservation, error) {
	held, err := tx.ListReservationsForUpdate(ctx, batch.ID, ReservationHeld)
	if err != nil {
		return nil, err
	}
	required := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		required[req.SkuID] = struct{}{}
	}
	sortBySkuLocation(held)
	var released []Reservation
	for _, res := range held {
		if _, ok := required[res.SkuID]; ok {
			continue
		}
		out, err := releaseReservation(ctx, tx, batch, res, "no longer required")
		if err != nil {
			return nil, err
		}
		released = append(released, out)
	}
	return released, nil
}

// releaseReservation returns res's quantity to its stock row, floored at the row's reserved
// quantity, and marks res RELEASED.
func releaseReservation(ctx context.Context, tx TxRepository, batch BatchRef, res Reservation, reason string) (Reservation, error) {
	stock, err := tx.GetStockForUpdate(ctx, res.LocationID, res.SkuID)
	if err != nil && !errors.Is(err, ErrStockNotFound) {
		return Reservation{}, err
	}
	freed := decimal.Min(res.Qty, decimal.Max(stock.Reserved, decimal.Zero))
	if freed.IsPositive() {
		if _, err := applyMovement(ctx, tx, movementParams{
			StoreID:       batch.StoreID,
			LocationID:    res.LocationID,
			SkuID:         res.SkuID,
			ReservedDelta: freed.Neg(),
			Type:          LedgerRelease,
			Qty:           freed.Neg(),
			RefType:       RefBatch,
			RefID:         batch.ID,
			Meta:          map[string]any{"batch_id": batch.ID, "reason": reason},
		}); err != nil {
			return Reservation{}, err
		}
	}
	res.Status = ReservationReleased
	if err := tx.UpsertReservation(ctx, res); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// sortBySkuLocation orders rows the way ReserveForBatch locks stock: SKU first, then location.
func sortBySkuLocation(rows []Reservation) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SkuID != rows[j].SkuID {
			return rows[i].SkuID < rows[j].SkuID
		}
		return rows[i].LocationID < rows[j].LocationID
	})
}

// ConsumeBatch permanently removes every HELD reservation of the batch from stock.
// Either every reservation is consumed or nothing changes.
func (s *Service) ConsumeBatch(ctx context.Context, storeID, batchID string) ([]Reservation, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return nil, err
	}
	var consumed []Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		consumed = consumed[:0]
		batch, err := tx.GetBatchForUpdate(ctx, storeID, batchID)
		if err != nil {
			return err
		}
		return s.consumeHeld(ctx, tx, batch, &consumed)
	})
	if err != nil {
		return nil, err
	}
	for range consumed {
		s.observeLedger(LedgerConsume)
	}
	s.logger.InfoContext(ctx, "batch reservations consumed",
		slog.String("store_id", storeID),
		slog.String("batch_id", batchID),
		slog.Int("consumed", len(consumed)))
	return consumed, nil
}

func (s *Service) consumeHeld(ctx context.Context, tx TxRepository, batch BatchRef, consumed *[]Reservation) error {
	held, err := tx.ListReservationsForUpdate(ctx, batch.ID, ReservationHeld)
	if err != nil {
		return err
	}
	sortBySkuLocation(held)

	for _, res := range held {
		stock, err := tx.GetStockForUpdate(ctx, res.LocationID, res.SkuID)
		if err != nil {
			if errors.Is(err, ErrStockNotFound) {
				return fmt.Errorf("%w: no stock row for reservation %s", ErrInvariant, res.ID)
			}
			return err
		}
		if stock.OnHand.LessThan(res.Qty) || stock.Reserved.LessThan(res.Qty) {
			return fmt.Errorf("%w: cannot consume %s of sku %s at location %s (on hand %s, reserved %s)",
				ErrInvariant, res.Qty, res.SkuID, res.LocationID, stock.OnHand, stock.Reserved)
		}
	}

	for _, res := range held {
		if res.Qty.IsPositive() {
			if _, err := applyMovement(ctx, tx, movementParams{
				StoreID:       batch.StoreID,
				LocationID:    res.LocationID,
				SkuID:         res.SkuID,
				OnHandDelta:   res.Qty.Neg(),
				ReservedDelta: res.Qty.Neg(),
				Type:          LedgerConsume,
				Qty:           res.Qty.Neg(),
				RefType:       RefBatch,
				RefID:         batch.ID,
				Meta:          map[string]any{"batch_id": batch.ID},
			}); err != nil {
				return err
			}
		}
		res.Status = ReservationFulfilled
		if err := tx.UpsertReservation(ctx, res); err != nil {
			return err
		}
		*consumed = append(*consumed, res)
	}
	if len(held) == 0 {
		return nil
	}
	return tx.SetBatchInventoryStatus(ctx, batch.ID, StatusOK)
}

// ListBatchReservations returns every reservation of a batch, in any status.
func (s *Service) ListBatchReservations(ctx context.Context, storeID, batchID string) ([]Reservation, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return nil, err
	}
	return s.repo.ListReservations(ctx, storeID, batchID)
}
