package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads orders from PostgreSQL.
type Repository struct {
	db querier
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// OrderLines returns the order header and its line items.
func (r *Repository) OrderLines(ctx context.Context, storeID, orderID string) (Order, error) {
	var o Order
	err := r.db.QueryRow(ctx, `SELECT id, store_id, network_id, fulfillment_store_id, due_at
FROM orders WHERE store_id = $1 AND id = $2`, storeID, orderID).
		Scan(&o.ID, &o.StoreID, &o.NetworkID, &o.FulfillmentStoreID, &o.DueAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}

	// The product's first decoration area supplies the method when the line has none.
	rows, err := r.db.Query(ctx, `SELECT i.id, i.order_id, i.product_id, i.variant_id, i.design_id,
       COALESCE(i.decoration_method, ''), COALESCE(i.decoration_locations, '[]'::jsonb),
       COALESCE((SELECT a->>'method' FROM jsonb_array_elements(p.decoration_areas) a LIMIT 1), ''),
       i.qty, i.personalization_summary, COALESCE(i.asset_urls, '[]'::jsonb)
FROM order_items i
LEFT JOIN products p ON p.id = i.product_id
WHERE i.order_id = $1
ORDER BY i.id`, o.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line      Line
			locations []byte
			assets    []byte
			summary   []byte
		)
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.VariantID, &line.DesignID,
			&line.DecorationMethod, &locations, &line.DefaultMethod, &line.Qty, &summary, &assets); err != nil {
			return Order{}, err
		}
		if err := json.Unmarshal(locations, &line.DecorationLocations); err != nil {
			return Order{}, fmt.Errorf("orders: decode locations of line %s: %w", line.ID, err)
		}
		if err := json.Unmarshal(assets, &line.AssetURLs); err != nil {
			return Order{}, fmt.Errorf("orders: decode assets of line %s: %w", line.ID, err)
		}
		if len(summary) > 0 {
			line.PersonalizationSummary = json.RawMessage(summary)
		}
		o.Lines = append(o.Lines, line)
	}
	return o, rows.Err()
}

// BulkOrderOrders returns the order ids consolidated into a bulk-order run.
func (r *Repository) BulkOrderOrders(ctx context.Context, storeID, bulkOrderID string) ([]string, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bulk_orders WHERE store_id = $1 AND id = $2)`,
		storeID, bulkOrderID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrBulkOrderNotFound
	}
	rows, err := r.db.Query(ctx, `SELECT order_id FROM bulk_order_orders WHERE bulk_order_id = $1 ORDER BY order_id`, bulkOrderID)
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
