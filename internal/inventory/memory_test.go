package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryBatch struct {
	ref   BatchRef
	lines []BatchLine
}

type memoryRepo struct {
	mu           sync.Mutex
	batches      map[string]*memoryBatch
	locations    map[string]Location
	skus         map[string]Sku
	maps         []MaterialMap
	stock        map[StockKey]Stock
	ledger       []LedgerEntry
	reservations map[string]Reservation
	nextLedgerID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches:      make(map[string]*memoryBatch),
		locations:    make(map[string]Location),
		skus:         make(map[string]Sku),
		stock:        make(map[StockKey]Stock),
		reservations: make(map[string]Reservation),
	}
}

func reservationKey(batchID, skuID string) string {
	return batchID + "|" + skuID
}

type memorySnapshot struct {
	batches      map[string]memoryBatch
	maps         []MaterialMap
	stock        map[StockKey]Stock
	ledger       []LedgerEntry
	reservations map[string]Reservation
	nextLedgerID int64
}

func (r *memoryRepo) snapshot() memorySnapshot {
	snap := memorySnapshot{
		batches:      make(map[string]memoryBatch, len(r.batches)),
		maps:         append([]MaterialMap(nil), r.maps...),
		stock:        make(map[StockKey]Stock, len(r.stock)),
		ledger:       append([]LedgerEntry(nil), r.ledger...),
		reservations: make(map[string]Reservation, len(r.reservations)),
		nextLedgerID: r.nextLedgerID,
	}
	for k, v := range r.batches {
		snap.batches[k] = *v
	}
	for k, v := range r.stock {
		snap.stock[k] = v
	}
	for k, v := range r.reservations {
		snap.reservations[k] = v
	}
	return snap
}

func (r *memoryRepo) restore(snap memorySnapshot) {
	r.batches = make(map[string]*memoryBatch, len(snap.batches))
	for k, v := range snap.batches {
		b := v
		r.batches[k] = &b
	}
	r.maps = snap.maps
	r.stock = snap.stock
	r.ledger = snap.ledger
	r.reservations = snap.reservations
	r.nextLedgerID = snap.nextLedgerID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepo) addBatch(storeID string, lines ...BatchLine) string {
	id := uuid.NewString()
	r.batches[id] = &memoryBatch{ref: BatchRef{ID: id, StoreID: storeID, InventoryStatus: StatusNotChecked}, lines: lines}
	return id
}

func (r *memoryRepo) setStock(storeID, locationID, skuID string, onHand, reserved int64) {
	r.stock[StockKey{LocationID: locationID, SkuID: skuID}] = Stock{
		StoreID:    storeID,
		LocationID: locationID,
		SkuID:      skuID,
		OnHand:     dec(onHand),
		Reserved:   dec(reserved),
	}
}

func (r *memoryRepo) stockAt(locationID, skuID string) Stock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[StockKey{LocationID: locationID, SkuID: skuID}]
}

func (r *memoryRepo) ledgerFor(refID string) []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LedgerEntry
	for _, e := range r.ledger {
		if e.RefID == refID {
			out = append(out, e)
		}
	}
	return out
}

func (r *memoryRepo) batchStatus(batchID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[batchID].ref.InventoryStatus
}

func (r *memoryRepo) CreateLocation(ctx context.Context, loc Location) (Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.locations {
		if l.StoreID == loc.StoreID && l.Code == loc.Code {
			return Location{}, ErrDuplicateCode
		}
	}
	loc.CreatedAt = time.Now().UTC()
	r.locations[loc.ID] = loc
	return loc, nil
}

func (r *memoryRepo) ListLocations(ctx context.Context, storeID string) ([]Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Location
	for _, l := range r.locations {
		if l.StoreID == storeID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memoryRepo) CreateSku(ctx context.Context, sku Sku) (Sku, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.skus {
		if s.StoreID == sku.StoreID && s.Code == sku.Code {
			return Sku{}, ErrDuplicateCode
		}
	}
	sku.CreatedAt = time.Now().UTC()
	r.skus[sku.ID] = sku
	return sku, nil
}

func (r *memoryRepo) ListSkus(ctx context.Context, storeID string) ([]Sku, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sku
	for _, s := range r.skus {
		if s.StoreID == storeID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memoryRepo) UpsertMaterialMap(ctx context.Context, m MaterialMap) (MaterialMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.maps {
		if existing.StoreID == m.StoreID && existing.ProductID == m.ProductID && existing.SkuID == m.SkuID &&
			variantOf(existing.VariantID) == variantOf(m.VariantID) {
			r.maps[i].QtyPerUnit = m.QtyPerUnit
			return r.maps[i], nil
		}
	}
	m.CreatedAt = time.Now().UTC()
	r.maps = append(r.maps, m)
	return m, nil
}

func variantOf(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func (r *memoryRepo) ListMaterialMapsForProduct(ctx context.Context, storeID, productID string) ([]MaterialMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MaterialMap
	for _, m := range r.maps {
		if m.StoreID == storeID && m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) DeleteMaterialMap(ctx context.Context, storeID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.maps {
		if m.StoreID == storeID && m.ID == id {
			r.maps = append(r.maps[:i], r.maps[i+1:]...)
			return nil
		}
	}
	return ErrMaterialMapNotFound
}

func (r *memoryRepo) ListStock(ctx context.Context, storeID string, filter StockFilter) ([]Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stockRows(storeID, filter), nil
}

func (r *memoryRepo) stockRows(storeID string, filter StockFilter) []Stock {
	var out []Stock
	for _, s := range r.stock {
		if s.StoreID != storeID {
			continue
		}
		if filter.SkuID != "" && s.SkuID != filter.SkuID {
			continue
		}
		if filter.LocationID != "" && s.LocationID != filter.LocationID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SkuID != out[j].SkuID {
			return out[i].SkuID < out[j].SkuID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out
}

func (r *memoryRepo) ListLedger(ctx context.Context, storeID string, filter LedgerFilter) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LedgerEntry
	for i := len(r.ledger) - 1; i >= 0; i-- {
		e := r.ledger[i]
		if e.StoreID != storeID {
			continue
		}
		if filter.SkuID != "" && e.SkuID != filter.SkuID {
			continue
		}
		if filter.RefType != "" && e.RefType != filter.RefType {
			continue
		}
		if filter.RefID != "" && e.RefID != filter.RefID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *memoryRepo) StreamLedger(ctx context.Context, storeID string) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledgerRows(storeID), nil
}

func (r *memoryRepo) ledgerRows(storeID string) []LedgerEntry {
	var out []LedgerEntry
	for _, e := range r.ledger {
		if e.StoreID == storeID {
			out = append(out, e)
		}
	}
	return out
}

func (r *memoryRepo) ListReservations(ctx context.Context, storeID, batchID string) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Reservation
	for _, res := range r.reservations {
		if res.StoreID == storeID && res.BatchID == batchID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkuID < out[j].SkuID })
	return out, nil
}

func (r *memoryRepo) ListStoreIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, s := range r.stock {
		if !seen[s.StoreID] {
			seen[s.StoreID] = true
			out = append(out, s.StoreID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context, storeID string) ([]LowStockRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LowStockRow
	for _, sku := range r.skus {
		if sku.StoreID != storeID || !sku.ReorderPoint.IsPositive() {
			continue
		}
		available := dec(0)
		for _, s := range r.stock {
			if s.SkuID == sku.ID {
				available = available.Add(s.Available())
			}
		}
		if available.LessThan(sku.ReorderPoint) {
			out = append(out, LowStockRow{StoreID: storeID, SkuID: sku.ID, Code: sku.Code, Available: available,
				ReorderPoint: sku.ReorderPoint, ReorderQty: sku.ReorderQty})
		}
	}
	return out, nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, storeID, batchID string) (BatchRef, error) {
	b, ok := tx.repo.batches[batchID]
	if !ok || b.ref.StoreID != storeID {
		return BatchRef{}, ErrBatchNotFound
	}
	return b.ref, nil
}

func (tx *memoryTx) ListBatchLines(ctx context.Context, batchID string) ([]BatchLine, error) {
	return append([]BatchLine(nil), tx.repo.batches[batchID].lines...), nil
}

func (tx *memoryTx) SetBatchInventoryStatus(ctx context.Context, batchID string, status Status) error {
	tx.repo.batches[batchID].ref.InventoryStatus = status
	return nil
}

func (tx *memoryTx) ListMaterialMaps(ctx context.Context, storeID string, productIDs []string) ([]MaterialMap, error) {
	want := map[string]bool{}
	for _, id := range productIDs {
		want[id] = true
	}
	var out []MaterialMap
	for _, m := range tx.repo.maps {
		if m.StoreID == storeID && want[m.ProductID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetLocation(ctx context.Context, storeID, locationID string) (Location, error) {
	loc, ok := tx.repo.locations[locationID]
	if !ok || loc.StoreID != storeID {
		return Location{}, ErrLocationNotFound
	}
	return loc, nil
}

func (tx *memoryTx) GetSku(ctx context.Context, storeID, skuID string) (Sku, error) {
	sku, ok := tx.repo.skus[skuID]
	if !ok || sku.StoreID != storeID {
		return Sku{}, ErrSkuNotFound
	}
	return sku, nil
}

func (tx *memoryTx) ListStockForSku(ctx context.Context, storeID, skuID string) ([]Stock, error) {
	var out []Stock
	for _, s := range tx.repo.stock {
		if s.StoreID == storeID && s.SkuID == skuID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out, nil
}

func (tx *memoryTx) GetStockForUpdate(ctx context.Context, locationID, skuID string) (Stock, error) {
	s, ok := tx.repo.stock[StockKey{LocationID: locationID, SkuID: skuID}]
	if !ok {
		return Stock{LocationID: locationID, SkuID: skuID}, ErrStockNotFound
	}
	return s, nil
}

func (tx *memoryTx) UpsertStock(ctx context.Context, stock Stock) error {
	if err := stock.Validate(); err != nil {
		return err
	}
	stock.UpdatedAt = time.Now().UTC()
	tx.repo.stock[StockKey{LocationID: stock.LocationID, SkuID: stock.SkuID}] = stock
	return nil
}

func (tx *memoryTx) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	tx.repo.nextLedgerID++
	entry.ID = tx.repo.nextLedgerID
	entry.CreatedAt = time.Now().UTC()
	tx.repo.ledger = append(tx.repo.ledger, entry)
	return entry.ID, nil
}

func (tx *memoryTx) GetReservationForUpdate(ctx context.Context, batchID, skuID string) (Reservation, error) {
	res, ok := tx.repo.reservations[reservationKey(batchID, skuID)]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return res, nil
}

func (tx *memoryTx) ListReservationsForUpdate(ctx context.Context, batchID string, status ReservationStatus) ([]Reservation, error) {
	var out []Reservation
	for _, res := range tx.repo.reservations {
		if res.BatchID == batchID && res.Status == status {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkuID < out[j].SkuID })
	return out, nil
}

func (tx *memoryTx) ListStock(ctx context.Context, storeID string, filter StockFilter) ([]Stock, error) {
	return tx.repo.stockRows(storeID, filter), nil
}

func (tx *memoryTx) StreamLedger(ctx context.Context, storeID string) ([]LedgerEntry, error) {
	return tx.repo.ledgerRows(storeID), nil
}

func (tx *memoryTx) UpsertReservation(ctx context.Context, res Reservation) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now
	tx.repo.reservations[reservationKey(res.BatchID, res.SkuID)] = res
	return nil
}
