package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stitchline/stitchline/internal/platform/db"
)

const maxTxAttempts = 3

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the reservation manager and stock movements.
type TxRepository interface {
	GetBatchForUpdate(ctx context.Context, storeID, batchID string) (BatchRef, error)
	ListBatchLines(ctx context.Context, batchID string) ([]BatchLine, error)
	SetBatchInventoryStatus(ctx context.Context, batchID string, status Status) error
	ListMaterialMaps(ctx context.Context, storeID string, productIDs []string) ([]MaterialMap, error)
	GetLocation(ctx context.Context, storeID, locationID string) (Location, error)
	GetSku(ctx context.Context, storeID, skuID string) (Sku, error)
	ListStockForSku(ctx context.Context, storeID, skuID string) ([]Stock, error)
	GetStockForUpdate(ctx context.Context, locationID, skuID string) (Stock, error)
	UpsertStock(ctx context.Context, stock Stock) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
	GetReservationForUpdate(ctx context.Context, batchID, skuID string) (Reservation, error)
	ListReservationsForUpdate(ctx context.Context, batchID string, status ReservationStatus) ([]Reservation, error)
	UpsertReservation(ctx context.Context, res Reservation) error
	ListStock(ctx context.Context, storeID string, filter StockFilter) ([]Stock, error)
	StreamLedger(ctx context.Context, storeID string) ([]LedgerEntry, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction, retrying serialization failures.
// A transaction already carried by ctx is joined, so a production stage change and the stock
// movements it triggers commit together.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.Retry(ctx, maxTxAttempts, func() error {
		return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
			return fn(ctx, &txRepo{tx: tx})
		})
	})
}

// CreateLocation inserts a location.
func (r *Repository) CreateLocation(ctx context.Context, loc Location) (Location, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO inventory_locations (id, store_id, code, name, kind)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`, loc.ID, loc.StoreID, loc.Code, loc.Name, string(loc.Kind)).Scan(&loc.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Location{}, ErrDuplicateCode
		}
		return Location{}, err
	}
	return loc, nil
}

// ListLocations returns the store's locations ordered by code.
func (r *Repository) ListLocations(ctx context.Context, storeID string) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, store_id, code, name, kind, created_at
FROM inventory_locations WHERE store_id = $1 ORDER BY code`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Location
	for rows.Next() {
		var loc Location
		var kind string
		if err := rows.Scan(&loc.ID, &loc.StoreID, &loc.Code, &loc.Name, &kind, &loc.CreatedAt); err != nil {
			return nil, err
		}
		loc.Kind = LocationKind(kind)
		out = append(out, loc)
	}
	return out, rows.Err()
}

// CreateSku inserts a sku.
func (r *Repository) CreateSku(ctx context.Context, sku Sku) (Sku, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO inventory_skus (id, store_id, code, name, unit, reorder_point, reorder_qty)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`, sku.ID, sku.StoreID, sku.Code, sku.Name, sku.Unit, sku.ReorderPoint, sku.ReorderQty).Scan(&sku.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Sku{}, ErrDuplicateCode
		}
		return Sku{}, err
	}
	return sku, nil
}

// ListSkus returns the store's skus ordered by code.
func (r *Repository) ListSkus(ctx context.Context, storeID string) ([]Sku, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, store_id, code, name, unit, reorder_point, reorder_qty, created_at
FROM inventory_skus WHERE store_id = $1 ORDER BY code`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sku
	for rows.Next() {
		var s Sku
		if err := rows.Scan(&s.ID, &s.StoreID, &s.Code, &s.Name, &s.Unit, &s.ReorderPoint, &s.ReorderQty, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertMaterialMap creates or updates a bill-of-materials edge.
func (r *Repository) UpsertMaterialMap(ctx context.Context, m MaterialMap) (MaterialMap, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO product_material_maps (id, store_id, product_id, variant_id, sku_id, qty_per_unit)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (store_id, product_id, COALESCE(variant_id, ''), sku_id)
DO UPDATE SET qty_per_unit = EXCLUDED.qty_per_unit
RETURNING id, created_at`, m.ID, m.StoreID, m.ProductID, m.VariantID, m.SkuID, m.QtyPerUnit).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return MaterialMap{}, err
	}
	return m, nil
}

// ListMaterialMapsForProduct returns every edge of a product.
func (r *Repository) ListMaterialMapsForProduct(ctx context.Context, storeID, productID string) ([]MaterialMap, error) {
	return listMaterialMaps(ctx, r.pool, storeID, []string{productID})
}

// DeleteMaterialMap removes an edge.
func (r *Repository) DeleteMaterialMap(ctx context.Context, storeID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM product_material_maps WHERE store_id = $1 AND id = $2`, storeID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMaterialMapNotFound
	}
	return nil
}

// ListStock returns stock rows for the store.
func (r *Repository) ListStock(ctx context.Context, storeID string, filter StockFilter) ([]Stock, error) {
	return listStock(ctx, r.pool, storeID, filter)
}

func listStock(ctx context.Context, q querier, storeID string, filter StockFilter) ([]Stock, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT store_id, location_id, sku_id, on_hand, reserved, updated_at FROM inventory_stock WHERE store_id = $1`)
	args := []any{storeID}
	if filter.SkuID != "" {
		args = append(args, filter.SkuID)
		fmt.Fprintf(&sb, " AND sku_id = $%d", len(args))
	}
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		fmt.Fprintf(&sb, " AND location_id = $%d", len(args))
	}
	sb.WriteString(" ORDER BY sku_id, location_id")
	return queryStock(ctx, q, sb.String(), args...)
}

// ListLedger returns ledger entries, newest first.
func (r *Repository) ListLedger(ctx context.Context, storeID string, filter LedgerFilter) ([]LedgerEntry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, store_id, location_id, sku_id, entry_type, qty, ref_type, ref_id, meta, created_at
FROM inventory_ledger WHERE store_id = $1`)
	args := []any{storeID}
	if filter.SkuID != "" {
		args = append(args, filter.SkuID)
		fmt.Fprintf(&sb, " AND sku_id = $%d", len(args))
	}
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		fmt.Fprintf(&sb, " AND location_id = $%d", len(args))
	}
	if filter.RefType != "" {
		args = append(args, string(filter.RefType))
		fmt.Fprintf(&sb, " AND ref_type = $%d", len(args))
	}
	if filter.RefID != "" {
		args = append(args, filter.RefID)
		fmt.Fprintf(&sb, " AND ref_id = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY id DESC LIMIT $%d", len(args))
	return queryLedger(ctx, r.pool, sb.String(), args...)
}

// StreamLedger returns every ledger entry of the store in insertion order.
func (r *Repository) StreamLedger(ctx context.Context, storeID string) ([]LedgerEntry, error) {
	return streamLedger(ctx, r.pool, storeID)
}

func streamLedger(ctx context.Context, q querier, storeID string) ([]LedgerEntry, error) {
	return queryLedger(ctx, q, `SELECT id, store_id, location_id, sku_id, entry_type, qty, ref_type, ref_id, meta, created_at
FROM inventory_ledger WHERE store_id = $1 ORDER BY id`, storeID)
}

// ListReservations returns every reservation of a batch.
func (r *Repository) ListReservations(ctx context.Context, storeID, batchID string) ([]Reservation, error) {
	return queryReservations(ctx, r.pool, `SELECT id, store_id, batch_id, sku_id, location_id, qty, status, created_at, updated_at
FROM inventory_reservations WHERE store_id = $1 AND batch_id = $2 ORDER BY sku_id`, storeID, batchID)
}

// ListStoreIDs returns every store that has stock rows.
func (r *Repository) ListStoreIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT store_id::text FROM inventory_stock ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListLowStock returns skus whose summed free quantity is below their reorder point.
func (r *Repository) ListLowStock(ctx context.Context, storeID string) ([]LowStockRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT k.store_id, k.id, k.code,
       COALESCE(SUM(s.on_hand - s.reserved), 0) AS available, k.reorder_point, k.reorder_qty
FROM inventory_skus k
LEFT JOIN inventory_stock s ON s.sku_id = k.id
WHERE k.store_id = $1 AND k.reorder_point > 0
GROUP BY k.store_id, k.id, k.code, k.reorder_point, k.reorder_qty
HAVING COALESCE(SUM(s.on_hand - s.reserved), 0) < k.reorder_point
ORDER BY k.code`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LowStockRow
	for rows.Next() {
		var row LowStockRow
		if err := rows.Scan(&row.StoreID, &row.SkuID, &row.Code, &row.Available, &row.ReorderPoint, &row.ReorderQty); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *txRepo) GetBatchForUpdate(ctx context.Context, storeID, batchID string) (BatchRef, error) {
	var b BatchRef
	var status string
	err := r.tx.QueryRow(ctx, `SELECT id, store_id, inventory_status FROM production_batches
WHERE store_id = $1 AND id = $2 FOR UPDATE`, storeID, batchID).Scan(&b.ID, &b.StoreID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BatchRef{}, ErrBatchNotFound
		}
		return BatchRef{}, err
	}
	b.InventoryStatus = Status(status)
	return b, nil
}

func (r *txRepo) ListBatchLines(ctx context.Context, batchID string) ([]BatchLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT product_id, variant_id, qty FROM production_batch_items
WHERE batch_id = $1 ORDER BY id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchLine
	for rows.Next() {
		var line BatchLine
		if err := rows.Scan(&line.ProductID, &line.VariantID, &line.Qty); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (r *txRepo) SetBatchInventoryStatus(ctx context.Context, batchID string, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE production_batches SET inventory_status = $2, updated_at = NOW() WHERE id = $1`,
		batchID, string(status))
	return err
}

func (r *txRepo) ListMaterialMaps(ctx context.Context, storeID string, productIDs []string) ([]MaterialMap, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	return listMaterialMaps(ctx, r.tx, storeID, productIDs)
}

func (r *txRepo) GetLocation(ctx context.Context, storeID, locationID string) (Location, error) {
	var loc Location
	var kind string
	err := r.tx.QueryRow(ctx, `SELECT id, store_id, code, name, kind, created_at FROM inventory_locations
WHERE store_id = $1 AND id = $2`, storeID, locationID).Scan(&loc.ID, &loc.StoreID, &loc.Code, &loc.Name, &kind, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrLocationNotFound
		}
		return Location{}, err
	}
	loc.Kind = LocationKind(kind)
	return loc, nil
}

func (r *txRepo) GetSku(ctx context.Context, storeID, skuID string) (Sku, error) {
	var s Sku
	err := r.tx.QueryRow(ctx, `SELECT id, store_id, code, name, unit, reorder_point, reorder_qty, created_at
FROM inventory_skus WHERE store_id = $1 AND id = $2`, storeID, skuID).
		Scan(&s.ID, &s.StoreID, &s.Code, &s.Name, &s.Unit, &s.ReorderPoint, &s.ReorderQty, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sku{}, ErrSkuNotFound
		}
		return Sku{}, err
	}
	return s, nil
}

func (r *txRepo) ListStockForSku(ctx context.Context, storeID, skuID string) ([]Stock, error) {
	return queryStock(ctx, r.tx, `SELECT store_id, location_id, sku_id, on_hand, reserved, updated_at
FROM inventory_stock WHERE store_id = $1 AND sku_id = $2
ORDER BY location_id FOR UPDATE`, storeID, skuID)
}

func (r *txRepo) GetStockForUpdate(ctx context.Context, locationID, skuID string) (Stock, error) {
	rows, err := queryStock(ctx, r.tx, `SELECT store_id, location_id, sku_id, on_hand, reserved, updated_at
FROM inventory_stock WHERE location_id = $1 AND sku_id = $2 FOR UPDATE`, locationID, skuID)
	if err != nil {
		return Stock{}, err
	}
	if len(rows) == 0 {
		return Stock{LocationID: locationID, SkuID: skuID}, ErrStockNotFound
	}
	return rows[0], nil
}

func (r *txRepo) UpsertStock(ctx context.Context, stock Stock) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_stock (store_id, location_id, sku_id, on_hand, reserved, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (location_id, sku_id)
DO UPDATE SET on_hand = EXCLUDED.on_hand, reserved = EXCLUDED.reserved, updated_at = NOW()`,
		stock.StoreID, stock.LocationID, stock.SkuID, stock.OnHand, stock.Reserved)
	return err
}

func (r *txRepo) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return 0, err
	}
	if entry.Meta == nil {
		meta = []byte("{}")
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO inventory_ledger (store_id, location_id, sku_id, entry_type, qty, ref_type, ref_id, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`, entry.StoreID, entry.LocationID, entry.SkuID, string(entry.Type), entry.Qty,
		string(entry.RefType), entry.RefID, meta).Scan(&id)
	return id, err
}

func (r *txRepo) GetReservationForUpdate(ctx context.Context, batchID, skuID string) (Reservation, error) {
	rows, err := queryReservations(ctx, r.tx, `SELECT id, store_id, batch_id, sku_id, location_id, qty, status, created_at, updated_at
FROM inventory_reservations WHERE batch_id = $1 AND sku_id = $2 FOR UPDATE`, batchID, skuID)
	if err != nil {
		return Reservation{}, err
	}
	if len(rows) == 0 {
		return Reservation{}, ErrReservationNotFound
	}
	return rows[0], nil
}

func (r *txRepo) ListReservationsForUpdate(ctx context.Context, batchID string, status ReservationStatus) ([]Reservation, error) {
	return queryReservations(ctx, r.tx, `SELECT id, store_id, batch_id, sku_id, location_id, qty, status, created_at, updated_at
FROM inventory_reservations WHERE batch_id = $1 AND status = $2
ORDER BY sku_id FOR UPDATE`, batchID, string(status))
}

func (r *txRepo) UpsertReservation(ctx context.Context, res Reservation) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_reservations (id, store_id, batch_id, sku_id, location_id, qty, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (batch_id, sku_id)
DO UPDATE SET location_id = EXCLUDED.location_id, qty = EXCLUDED.qty, status = EXCLUDED.status, updated_at = NOW()`,
		res.ID, res.StoreID, res.BatchID, res.SkuID, res.LocationID, res.Qty, string(res.Status))
	return err
}

func (r *txRepo) ListStock(ctx context.Context, storeID string, filter StockFilter) ([]Stock, error) {
	return listStock(ctx, r.tx, storeID, filter)
}

func (r *txRepo) StreamLedger(ctx context.Context, storeID string) ([]LedgerEntry, error) {
	return streamLedger(ctx, r.tx, storeID)
}

func listMaterialMaps(ctx context.Context, q querier, storeID string, productIDs []string) ([]MaterialMap, error) {
	rows, err := q.Query(ctx, `SELECT id, store_id, product_id, variant_id, sku_id, qty_per_unit, created_at
FROM product_material_maps WHERE store_id = $1 AND product_id = ANY($2)
ORDER BY product_id, sku_id, variant_id NULLS FIRST`, storeID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MaterialMap
	for rows.Next() {
		var m MaterialMap
		if err := rows.Scan(&m.ID, &m.StoreID, &m.ProductID, &m.VariantID, &m.SkuID, &m.QtyPerUnit, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func queryStock(ctx context.Context, q querier, sql string, args ...any) ([]Stock, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.StoreID, &s.LocationID, &s.SkuID, &s.OnHand, &s.Reserved, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func queryLedger(ctx context.Context, q querier, sql string, args ...any) ([]LedgerEntry, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var (
			e       LedgerEntry
			typ     string
			refType string
			meta    []byte
		)
		if err := rows.Scan(&e.ID, &e.StoreID, &e.LocationID, &e.SkuID, &typ, &e.Qty, &refType, &e.RefID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = LedgerType(typ)
		e.RefType = RefType(refType)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("inventory: decode ledger meta %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func queryReservations(ctx context.Context, q querier, sql string, args ...any) ([]Reservation, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var (
			res    Reservation
			status string
		)
		if err := rows.Scan(&res.ID, &res.StoreID, &res.BatchID, &res.SkuID, &res.LocationID, &res.Qty, &status,
			&res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		res.Status = ReservationStatus(status)
		out = append(out, res)
	}
	return out, rows.Err()
}
