package production

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stitchline/stitchline/internal/inventory"
	"github.com/stitchline/stitchline/internal/platform/db"
	"github.com/stitchline/stitchline/internal/shared"
)

// Repository persists production batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	ListBatchesBySource(ctx context.Context, storeID string, sourceType SourceType, sourceID string) ([]Batch, error)
	InsertBatch(ctx context.Context, batch Batch) error
	InsertItems(ctx context.Context, items []Item) error
	InsertEvent(ctx context.Context, event Event) error
	InsertScanToken(ctx context.Context, token ScanToken) error
	GetBatchForUpdate(ctx context.Context, storeID, batchID string) (Batch, error)
	UpdateBatchStage(ctx context.Context, batchID string, stage Stage, notes string) error
	CountHeldReservations(ctx context.Context, batchID string) (int, error)
	GetOpenAssignmentForUpdate(ctx context.Context, batchID string) (Assignment, error)
	ReleaseAssignment(ctx context.Context, assignmentID string, at time.Time) error
	InsertAssignment(ctx context.Context, a Assignment) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

const batchColumns = `id, store_id, network_id, fulfillment_store_id, source_type, source_id, group_key, method,
stage, priority, notes, due_at, inventory_status, created_at, updated_at`

// WithTx wraps callback in repeatable-read transaction. The context handed to callback carries
// the transaction, so inventory calls made with it join the same commit.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.IsRetryable(err) {
		return fmt.Errorf("production: concurrent batch update: %w", shared.ErrConflict)
	}
	return err
}

// ListBatchesBySource reads the batches formed from one source.
func (r *Repository) ListBatchesBySource(ctx context.Context, storeID string, sourceType SourceType, sourceID string) ([]Batch, error) {
	return listBatchesBySource(ctx, r.pool, storeID, sourceType, sourceID)
}

// GetBatch loads one batch.
func (r *Repository) GetBatch(ctx context.Context, storeID, batchID string) (Batch, error) {
	return getBatch(ctx, r.pool, `SELECT `+batchColumns+` FROM production_batches WHERE store_id = $1 AND id = $2`, storeID, batchID)
}

// ListItems returns a batch's items.
func (r *Repository) ListItems(ctx context.Context, batchID string) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, batch_id, order_id, bulk_order_id, product_id, variant_id, design_id,
       location, qty, personalization_summary, asset_ref, created_at
FROM production_batch_items WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var (
			item    Item
			summary []byte
			assets  []byte
		)
		if err := rows.Scan(&item.ID, &item.BatchID, &item.OrderID, &item.BulkOrderID, &item.ProductID, &item.VariantID,
			&item.DesignID, &item.Location, &item.Qty, &summary, &assets, &item.CreatedAt); err != nil {
			return nil, err
		}
		if len(summary) > 0 {
			if err := json.Unmarshal(summary, &item.PersonalizationSummary); err != nil {
				return nil, fmt.Errorf("production: decode personalization of item %s: %w", item.ID, err)
			}
		}
		if err := json.Unmarshal(assets, &item.AssetRef); err != nil {
			return nil, fmt.Errorf("production: decode assets of item %s: %w", item.ID, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListEvents returns a batch's events oldest first.
func (r *Repository) ListEvents(ctx context.Context, batchID string) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, batch_id, event_type, from_stage, to_stage, COALESCE(actor_id, ''), meta, created_at
FROM production_batch_events WHERE batch_id = $1 ORDER BY id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e        Event
			typ      string
			from, to *string
			meta     []byte
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &typ, &from, &to, &e.ActorID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		if from != nil {
			s := Stage(*from)
			e.FromStage = &s
		}
		if to != nil {
			s := Stage(*to)
			e.ToStage = &s
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("production: decode event meta %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetOpenAssignment returns the batch's current operator, if any.
func (r *Repository) GetOpenAssignment(ctx context.Context, batchID string) (Assignment, error) {
	return getOpenAssignment(ctx, r.pool, `SELECT id, batch_id, operator_id, assigned_at, released_at
FROM production_assignments WHERE batch_id = $1 AND released_at IS NULL`, batchID)
}

// ListBatches returns one filtered page of batches and the total match count.
func (r *Repository) ListBatches(ctx context.Context, storeID string, filter ListFilter, limit, offset int) ([]Batch, int, error) {
	var where strings.Builder
	where.WriteString(` WHERE store_id = $1`)
	args := []any{storeID}
	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		fmt.Fprintf(&where, " AND stage = $%d", len(args))
	}
	if filter.Method != "" {
		args = append(args, string(filter.Method))
		fmt.Fprintf(&where, " AND method = $%d", len(args))
	}
	if filter.FulfillmentStoreID != "" {
		args = append(args, filter.FulfillmentStoreID)
		fmt.Fprintf(&where, " AND fulfillment_store_id = $%d", len(args))
	}
	if filter.CampaignID != "" {
		args = append(args, filter.CampaignID)
		fmt.Fprintf(&where, " AND source_type = 'BULK_ORDER' AND source_id = $%d", len(args))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		fmt.Fprintf(&where, " AND (notes ILIKE $%d OR source_id ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM production_batches`+where.String(), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	sql := fmt.Sprintf(`SELECT %s FROM production_batches%s ORDER BY priority DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		batchColumns, where.String(), len(args)-1, len(args))
	batches, err := queryBatches(ctx, r.pool, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// GetScanToken resolves a token together with its batch's store.
func (r *Repository) GetScanToken(ctx context.Context, token string) (ScanToken, error) {
	var t ScanToken
	err := r.pool.QueryRow(ctx, `SELECT t.token, t.batch_id, b.store_id, t.expires_at, t.created_at
FROM production_scan_tokens t JOIN production_batches b ON b.id = t.batch_id
WHERE t.token = $1`, token).Scan(&t.Token, &t.BatchID, &t.StoreID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ScanToken{}, ErrTokenNotFound
		}
		return ScanToken{}, err
	}
	return t, nil
}

// OldestValidToken returns the batch's oldest token that has not expired at now.
func (r *Repository) OldestValidToken(ctx context.Context, batchID string, now time.Time) (ScanToken, error) {
	var t ScanToken
	err := r.pool.QueryRow(ctx, `SELECT token, batch_id, expires_at, created_at FROM production_scan_tokens
WHERE batch_id = $1 AND (expires_at IS NULL OR expires_at > $2)
ORDER BY created_at LIMIT 1`, batchID, now).Scan(&t.Token, &t.BatchID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ScanToken{}, ErrTokenNotFound
		}
		return ScanToken{}, err
	}
	return t, nil
}

// InsertScanToken stores a token outside a transaction.
func (r *Repository) InsertScanToken(ctx context.Context, token ScanToken) error {
	return insertScanToken(ctx, r.pool, token)
}

// InsertEvent appends an event outside a transaction.
func (r *Repository) InsertEvent(ctx context.Context, event Event) error {
	return insertEvent(ctx, r.pool, event)
}

func (r *txRepo) ListBatchesBySource(ctx context.Context, storeID string, sourceType SourceType, sourceID string) ([]Batch, error) {
	return listBatchesBySource(ctx, r.tx, storeID, sourceType, sourceID)
}

func (r *txRepo) InsertBatch(ctx context.Context, b Batch) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO production_batches (id, store_id, network_id, fulfillment_store_id, source_type,
    source_id, group_key, method, stage, priority, notes, due_at, inventory_status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		b.ID, b.StoreID, b.NetworkID, b.FulfillmentStoreID, string(b.SourceType), b.SourceID, b.GroupKey,
		string(b.Method), string(b.Stage), b.Priority, b.Notes, b.DueAt, string(b.InventoryStatus), b.CreatedAt)
	return err
}

func (r *txRepo) InsertItems(ctx context.Context, items []Item) error {
	batch := &pgx.Batch{}
	for _, item := range items {
		var summary []byte
		if item.PersonalizationSummary != nil {
			encoded, err := json.Marshal(item.PersonalizationSummary)
			if err != nil {
				return err
			}
			summary = encoded
		}
		assets, err := json.Marshal(item.AssetRef)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO production_batch_items (id, batch_id, order_id, bulk_order_id, product_id, variant_id,
    design_id, location, qty, personalization_summary, asset_ref, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			item.ID, item.BatchID, item.OrderID, item.BulkOrderID, item.ProductID, item.VariantID, item.DesignID,
			item.Location, item.Qty, summary, assets, item.CreatedAt)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepo) InsertEvent(ctx context.Context, event Event) error {
	return insertEvent(ctx, r.tx, event)
}

func (r *txRepo) InsertScanToken(ctx context.Context, token ScanToken) error {
	return insertScanToken(ctx, r.tx, token)
}

func (r *txRepo) GetBatchForUpdate(ctx context.Context, storeID, batchID string) (Batch, error) {
	return getBatch(ctx, r.tx, `SELECT `+batchColumns+` FROM production_batches WHERE store_id = $1 AND id = $2 FOR UPDATE`,
		storeID, batchID)
}

func (r *txRepo) UpdateBatchStage(ctx context.Context, batchID string, stage Stage, notes string) error {
	_, err := r.tx.Exec(ctx, `UPDATE production_batches SET stage = $2, notes = $3, updated_at = NOW() WHERE id = $1`,
		batchID, string(stage), notes)
	return err
}

func (r *txRepo) CountHeldReservations(ctx context.Context, batchID string) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_reservations WHERE batch_id = $1 AND status = $2`,
		batchID, string(inventory.ReservationHeld)).Scan(&n)
	return n, err
}

func (r *txRepo) GetOpenAssignmentForUpdate(ctx context.Context, batchID string) (Assignment, error) {
	return getOpenAssignment(ctx, r.tx, `SELECT id, batch_id, operator_id, assigned_at, released_at
FROM production_assignments WHERE batch_id = $1 AND released_at IS NULL FOR UPDATE`, batchID)
}

func (r *txRepo) ReleaseAssignment(ctx context.Context, assignmentID string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE production_assignments SET released_at = $2 WHERE id = $1 AND released_at IS NULL`,
		assignmentID, at)
	return err
}

func (r *txRepo) InsertAssignment(ctx context.Context, a Assignment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO production_assignments (id, batch_id, operator_id, assigned_at)
VALUES ($1, $2, $3, $4)`, a.ID, a.BatchID, a.OperatorID, a.AssignedAt)
	return err
}

func listBatchesBySource(ctx context.Context, q querier, storeID string, sourceType SourceType, sourceID string) ([]Batch, error) {
	return queryBatches(ctx, q, `SELECT `+batchColumns+` FROM production_batches
WHERE store_id = $1 AND source_type = $2 AND source_id = $3
ORDER BY created_at, group_key`, storeID, string(sourceType), sourceID)
}

func getBatch(ctx context.Context, q querier, sql string, args ...any) (Batch, error) {
	batches, err := queryBatches(ctx, q, sql, args...)
	if err != nil {
		return Batch{}, err
	}
	if len(batches) == 0 {
		return Batch{}, ErrBatchNotFound
	}
	return batches[0], nil
}

func queryBatches(ctx context.Context, q querier, sql string, args ...any) ([]Batch, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		var (
			b                                   Batch
			sourceType, method, stage, invState string
		)
		if err := rows.Scan(&b.ID, &b.StoreID, &b.NetworkID, &b.FulfillmentStoreID, &sourceType, &b.SourceID, &b.GroupKey,
			&method, &stage, &b.Priority, &b.Notes, &b.DueAt, &invState, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.SourceType = SourceType(sourceType)
		b.Method = Method(method)
		b.Stage = Stage(stage)
		b.InventoryStatus = inventory.Status(invState)
		out = append(out, b)
	}
	return out, rows.Err()
}

func getOpenAssignment(ctx context.Context, q querier, sql string, batchID string) (Assignment, error) {
	var a Assignment
	err := q.QueryRow(ctx, sql, batchID).Scan(&a.ID, &a.BatchID, &a.OperatorID, &a.AssignedAt, &a.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrNoOpenAssignment
		}
		return Assignment{}, err
	}
	return a, nil
}

func insertEvent(ctx context.Context, q querier, e Event) error {
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return err
	}
	if e.Meta == nil {
		meta = []byte("{}")
	}
	var from, to *string
	if e.FromStage != nil {
		s := string(*e.FromStage)
		from = &s
	}
	if e.ToStage != nil {
		s := string(*e.ToStage)
		to = &s
	}
	_, err = q.Exec(ctx, `INSERT INTO production_batch_events (batch_id, event_type, from_stage, to_stage, actor_id, meta)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`, e.BatchID, string(e.Type), from, to, e.ActorID, meta)
	return err
}

func insertScanToken(ctx context.Context, q querier, t ScanToken) error {
	_, err := q.Exec(ctx, `INSERT INTO production_scan_tokens (token, batch_id, expires_at, created_at)
VALUES ($1, $2, $3, $4)`, t.Token, t.BatchID, t.ExpiresAt, t.CreatedAt)
	return err
}
