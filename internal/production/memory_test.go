package production

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stitchline/stitchline/internal/inventory"
	"github.com/stitchline/stitchline/internal/orders"
	"github.com/stitchline/stitchline/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	batches     map[string]Batch
	items       map[string][]Item
	events      []Event
	assignments []Assignment
	tokens      map[string]ScanToken
	held        map[string]int
	nextEventID int64
}

type memoryTx struct {
	repo *memoryRepo
}

// memoryTxKey marks contexts handed out by memoryRepo.WithTx.
type memoryTxKey struct{}

func inMemoryTx(ctx context.Context) bool {
	return ctx.Value(memoryTxKey{}) != nil
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches: make(map[string]Batch),
		items:   make(map[string][]Item),
		tokens:  make(map[string]ScanToken),
		held:    make(map[string]int),
	}
}

type memorySnapshot struct {
	batches     map[string]Batch
	items       map[string][]Item
	events      []Event
	assignments []Assignment
	tokens      map[string]ScanToken
	nextEventID int64
}

func (r *memoryRepo) snapshot() memorySnapshot {
	snap := memorySnapshot{
		batches:     make(map[string]Batch, len(r.batches)),
		items:       make(map[string][]Item, len(r.items)),
		events:      append([]Event(nil), r.events...),
		assignments: append([]Assignment(nil), r.assignments...),
		tokens:      make(map[string]ScanToken, len(r.tokens)),
		nextEventID: r.nextEventID,
	}
	for k, v := range r.batches {
		snap.batches[k] = v
	}
	for k, v := range r.items {
		snap.items[k] = v
	}
	for k, v := range r.tokens {
		snap.tokens[k] = v
	}
	return snap
}

func (r *memoryRepo) restore(snap memorySnapshot) {
	r.batches = snap.batches
	r.items = snap.items
	r.events = snap.events
	r.assignments = snap.assignments
	r.tokens = snap.tokens
	r.nextEventID = snap.nextEventID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot()
	if err := fn(context.WithValue(ctx, memoryTxKey{}, true), &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepo) batchesBySource(storeID string, sourceType SourceType, sourceID string) []Batch {
	var out []Batch
	for _, b := range r.batches {
		if b.StoreID == storeID && b.SourceType == sourceType && b.SourceID == sourceID {
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out
}

func (r *memoryRepo) ListBatchesBySource(_ context.Context, storeID string, sourceType SourceType, sourceID string) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batchesBySource(storeID, sourceType, sourceID), nil
}

func (r *memoryRepo) GetBatch(_ context.Context, storeID, batchID string) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok || b.StoreID != storeID {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (r *memoryRepo) ListItems(_ context.Context, batchID string) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Item(nil), r.items[batchID]...), nil
}

func (r *memoryRepo) ListEvents(_ context.Context, batchID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eventsFor(batchID), nil
}

func (r *memoryRepo) eventsFor(batchID string) []Event {
	var out []Event
	for _, e := range r.events {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out
}

func (r *memoryRepo) GetOpenAssignment(_ context.Context, batchID string) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openAssignment(batchID)
}

func (r *memoryRepo) openAssignment(batchID string) (Assignment, error) {
	for _, a := range r.assignments {
		if a.BatchID == batchID && a.ReleasedAt == nil {
			return a, nil
		}
	}
	return Assignment{}, ErrNoOpenAssignment
}

func (r *memoryRepo) ListBatches(_ context.Context, storeID string, filter ListFilter, limit, offset int) ([]Batch, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Batch
	for _, b := range r.batches {
		if b.StoreID != storeID {
			continue
		}
		if filter.Stage != "" && b.Stage != filter.Stage {
			continue
		}
		if filter.Method != "" && b.Method != filter.Method {
			continue
		}
		if filter.FulfillmentStoreID != "" && (b.FulfillmentStoreID == nil || *b.FulfillmentStoreID != filter.FulfillmentStoreID) {
			continue
		}
		if filter.CampaignID != "" && (b.SourceType != SourceBulkOrder || b.SourceID != filter.CampaignID) {
			continue
		}
		if q := strings.ToLower(strings.TrimSpace(filter.Query)); q != "" &&
			!strings.Contains(strings.ToLower(b.Notes), q) && !strings.Contains(strings.ToLower(b.SourceID), q) {
			continue
		}
		matched = append(matched, b)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *memoryRepo) GetScanToken(_ context.Context, token string) (ScanToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok {
		return ScanToken{}, ErrTokenNotFound
	}
	t.StoreID = r.batches[t.BatchID].StoreID
	return t, nil
}

func (r *memoryRepo) OldestValidToken(_ context.Context, batchID string, now time.Time) (ScanToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *ScanToken
	for _, t := range r.tokens {
		if t.BatchID != batchID || t.Expired(now) {
			continue
		}
		if best == nil || t.CreatedAt.Before(best.CreatedAt) {
			tok := t
			best = &tok
		}
	}
	if best == nil {
		return ScanToken{}, ErrTokenNotFound
	}
	return *best, nil
}

func (r *memoryRepo) InsertScanToken(_ context.Context, token ScanToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.Token] = token
	return nil
}

func (r *memoryRepo) InsertEvent(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendEvent(event)
	return nil
}

func (r *memoryRepo) appendEvent(e Event) {
	r.nextEventID++
	e.ID = r.nextEventID
	e.CreatedAt = time.Now().UTC()
	r.events = append(r.events, e)
}

func (r *memoryRepo) tokensFor(batchID string) []ScanToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ScanToken
	for _, t := range r.tokens {
		if t.BatchID == batchID {
			out = append(out, t)
		}
	}
	return out
}

func (r *memoryRepo) batch(batchID string) Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[batchID]
}

func (r *memoryRepo) eventTypes(batchID string) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.eventsFor(batchID) {
		out = append(out, e.Type)
	}
	return out
}

func (r *memoryRepo) openAssignments(batchID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.assignments {
		if a.BatchID == batchID && a.ReleasedAt == nil {
			n++
		}
	}
	return n
}

func (t *memoryTx) ListBatchesBySource(_ context.Context, storeID string, sourceType SourceType, sourceID string) ([]Batch, error) {
	return t.repo.batchesBySource(storeID, sourceType, sourceID), nil
}

func (t *memoryTx) InsertBatch(_ context.Context, b Batch) error {
	for _, existing := range t.repo.batches {
		if existing.StoreID == b.StoreID && existing.SourceType == b.SourceType &&
			existing.SourceID == b.SourceID && existing.GroupKey == b.GroupKey {
			return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	t.repo.batches[b.ID] = b
	return nil
}

func (t *memoryTx) InsertItems(_ context.Context, items []Item) error {
	for _, item := range items {
		t.repo.items[item.BatchID] = append(t.repo.items[item.BatchID], item)
	}
	return nil
}

func (t *memoryTx) InsertEvent(_ context.Context, event Event) error {
	t.repo.appendEvent(event)
	return nil
}

func (t *memoryTx) InsertScanToken(_ context.Context, token ScanToken) error {
	t.repo.tokens[token.Token] = token
	return nil
}

func (t *memoryTx) GetBatchForUpdate(_ context.Context, storeID, batchID string) (Batch, error) {
	b, ok := t.repo.batches[batchID]
	if !ok || b.StoreID != storeID {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (t *memoryTx) UpdateBatchStage(_ context.Context, batchID string, stage Stage, notes string) error {
	b, ok := t.repo.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	b.Stage = stage
	b.Notes = notes
	b.UpdatedAt = time.Now().UTC()
	t.repo.batches[batchID] = b
	return nil
}

func (t *memoryTx) CountHeldReservations(_ context.Context, batchID string) (int, error) {
	return t.repo.held[batchID], nil
}

func (t *memoryTx) GetOpenAssignmentForUpdate(_ context.Context, batchID string) (Assignment, error) {
	return t.repo.openAssignment(batchID)
}

func (t *memoryTx) ReleaseAssignment(_ context.Context, assignmentID string, at time.Time) error {
	for i, a := range t.repo.assignments {
		if a.ID == assignmentID && a.ReleasedAt == nil {
			released := at
			t.repo.assignments[i].ReleasedAt = &released
		}
	}
	return nil
}

func (t *memoryTx) InsertAssignment(_ context.Context, a Assignment) error {
	if _, err := t.repo.openAssignment(a.BatchID); err == nil {
		return &pgconn.PgError{Code: "23505", Message: "duplicate open assignment"}
	}
	t.repo.assignments = append(t.repo.assignments, a)
	return nil
}

// fakeInventory stands in for the reservation manager and writes the batch
// status it would have produced back into the memory repo.
type fakeInventory struct {
	repo       *memoryRepo
	status     inventory.Status
	heldCount  int
	consumeErr error
	releaseErr error
	consumed   []string
	released   []string
	// consumedInTx records, per consume call, whether it ran inside the stage transaction.
	consumedInTx []bool
}

func (f *fakeInventory) ReserveForBatch(_ context.Context, storeID, batchID string) (inventory.ReservationResult, error) {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	b, ok := f.repo.batches[batchID]
	if !ok || b.StoreID != storeID {
		return inventory.ReservationResult{}, inventory.ErrBatchNotFound
	}
	b.InventoryStatus = f.status
	f.repo.batches[batchID] = b
	f.repo.held[batchID] = f.heldCount
	return inventory.ReservationResult{BatchID: batchID, Status: f.status}, nil
}

func (f *fakeInventory) ReleaseBatch(_ context.Context, _ string, batchID string) ([]inventory.Reservation, error) {
	if f.releaseErr != nil {
		return nil, f.releaseErr
	}
	f.released = append(f.released, batchID)
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	f.repo.held[batchID] = 0
	return nil, nil
}

func (f *fakeInventory) ConsumeBatch(ctx context.Context, _ string, batchID string) ([]inventory.Reservation, error) {
	f.consumedInTx = append(f.consumedInTx, inMemoryTx(ctx))
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	f.consumed = append(f.consumed, batchID)
	return nil, nil
}

func (f *fakeInventory) ListBatchReservations(context.Context, string, string) ([]inventory.Reservation, error) {
	return nil, nil
}

// staleReadRepo serves a remembered copy of a batch from GetBatch, the way a read taken just
// before a concurrent transition commits would look.
type staleReadRepo struct {
	*memoryRepo
	stale map[string]Batch
}

func (r *staleReadRepo) GetBatch(ctx context.Context, storeID, batchID string) (Batch, error) {
	if b, ok := r.stale[batchID]; ok {
		return b, nil
	}
	return r.memoryRepo.GetBatch(ctx, storeID, batchID)
}

type fakeOrders struct {
	orders map[string]orders.Order
	bulk   map[string][]string
}

func (f *fakeOrders) OrderLines(_ context.Context, _ string, orderID string) (orders.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) BulkOrderOrders(_ context.Context, _ string, bulkOrderID string) ([]string, error) {
	ids, ok := f.bulk[bulkOrderID]
	if !ok {
		return nil, orders.ErrBulkOrderNotFound
	}
	return ids, nil
}

type fakeFlags struct {
	enabled bool
	err     error
}

func (f fakeFlags) Enabled(context.Context, string, string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.enabled, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	content map[string][]byte
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	data, ok := f.content[ref]
	if !ok {
		return nil, errors.New("asset response 404")
	}
	return data, nil
}

type fakeIdempotency struct {
	keys    map[string]bool
	deleted []string
}

func (f *fakeIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[module+"|"+key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[module+"|"+key] = true
	return nil
}

func (f *fakeIdempotency) Delete(_ context.Context, key, module string) error {
	delete(f.keys, module+"|"+key)
	f.deleted = append(f.deleted, key)
	return nil
}
