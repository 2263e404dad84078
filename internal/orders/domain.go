// Package orders reads the checkout subsystem's orders and bulk-order runs.
package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stitchline/stitchline/internal/shared"
)

// Order is a paid order with the lines production needs.
type Order struct {
	ID                 string     `json:"id"`
	StoreID            string     `json:"store_id"`
	NetworkID          *string    `json:"network_id,omitempty"`
	FulfillmentStoreID *string    `json:"fulfillment_store_id,omitempty"`
	DueAt              *time.Time `json:"due_at,omitempty"`
	Lines              []Line     `json:"lines"`
}

// Line is one order line item.
type Line struct {
	ID                     string          `json:"id"`
	OrderID                string          `json:"order_id"`
	ProductID              string          `json:"product_id"`
	VariantID              string          `json:"variant_id"`
	DesignID               *string         `json:"design_id,omitempty"`
	DecorationMethod       string          `json:"decoration_method,omitempty"`
	DecorationLocations    []string        `json:"decoration_locations,omitempty"`
	DefaultMethod          string          `json:"default_method,omitempty"`
	Qty                    int             `json:"qty"`
	PersonalizationSummary json.RawMessage `json:"personalization_summary,omitempty"`
	AssetURLs              []string        `json:"asset_urls"`
}

var (
	// ErrOrderNotFound indicates the order does not exist in the store.
	ErrOrderNotFound = fmt.Errorf("orders: order %w", shared.ErrNotFound)
	// ErrBulkOrderNotFound indicates the bulk-order run does not exist in the store.
	ErrBulkOrderNotFound = fmt.Errorf("orders: bulk order %w", shared.ErrNotFound)
)
