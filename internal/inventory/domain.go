package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stitchline/stitchline/internal/shared"
)

// LedgerType enumerates supported stock movements.
type LedgerType string

const (
	// LedgerAdjustment is a signed manual correction of on-hand stock.
	LedgerAdjustment LedgerType = "ADJUSTMENT"
	// LedgerReceipt is inbound stock (purchase order or manual).
	LedgerReceipt LedgerType = "RECEIPT"
	// LedgerIssue is outbound stock not tied to a batch.
	LedgerIssue LedgerType = "ISSUE"
	// LedgerReserve increases the reserved quantity.
	LedgerReserve LedgerType = "RESERVE"
	// LedgerRelease decreases the reserved quantity.
	LedgerRelease LedgerType = "RELEASE"
	// LedgerConsume removes reserved stock from on hand.
	LedgerConsume LedgerType = "CONSUME"
)

// RefType identifies what caused a ledger entry.
type RefType string

const (
	RefPO     RefType = "PO"
	RefBatch  RefType = "BATCH"
	RefOrder  RefType = "ORDER"
	RefManual RefType = "MANUAL"
)

// IsValid reports whether the reference type is known.
func (r RefType) IsValid() bool {
	switch r {
	case RefPO, RefBatch, RefOrder, RefManual:
		return true
	default:
		return false
	}
}

// LocationKind classifies a stock location.
type LocationKind string

const (
	LocationWarehouse LocationKind = "WAREHOUSE"
	LocationShelf     LocationKind = "SHELF"
	LocationBin       LocationKind = "BIN"
	LocationExternal  LocationKind = "EXTERNAL"
)

// ReservationStatus is the lifecycle of a batch hold.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "HELD"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationFulfilled ReservationStatus = "FULFILLED"
)

// Status summarises the stock readiness of a production batch.
type Status string

const (
	StatusNotMapped  Status = "NOT_MAPPED"
	StatusNotChecked Status = "NOT_CHECKED"
	StatusOK         Status = "OK"
	StatusLowStock   Status = "LOW_STOCK"
)

// Location is a place stock lives in.
type Location struct {
	ID        string       `json:"id"`
	StoreID   string       `json:"store_id"`
	Code      string       `json:"code"`
	Name      string       `json:"name"`
	Kind      LocationKind `json:"kind"`
	CreatedAt time.Time    `json:"created_at"`
}

// Sku is a stock-keeping unit.
type Sku struct {
	ID           string          `json:"id"`
	StoreID      string          `json:"store_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	ReorderQty   decimal.Decimal `json:"reorder_qty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MaterialMap is one bill-of-materials edge. A nil VariantID applies to every variant.
type MaterialMap struct {
	ID         string          `json:"id"`
	StoreID    string          `json:"store_id"`
	ProductID  string          `json:"product_id"`
	VariantID  *string         `json:"variant_id,omitempty"`
	SkuID      string          `json:"sku_id"`
	QtyPerUnit decimal.Decimal `json:"qty_per_unit"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Stock is the current state of one (location, sku).
type Stock struct {
	StoreID    string          `json:"store_id"`
	LocationID string          `json:"location_id"`
	SkuID      string          `json:"sku_id"`
	OnHand     decimal.Decimal `json:"on_hand"`
	Reserved   decimal.Decimal `json:"reserved"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Available is the unreserved portion of on-hand stock.
func (s Stock) Available() decimal.Decimal {
	return s.OnHand.Sub(s.Reserved)
}

// Validate enforces 0 <= reserved <= on hand.
func (s Stock) Validate() error {
	if s.Reserved.IsNegative() {
		return fmt.Errorf("%w: reserved %s below zero at location %s sku %s", ErrInvariant, s.Reserved, s.LocationID, s.SkuID)
	}
	if s.Reserved.GreaterThan(s.OnHand) {
		return fmt.Errorf("%w: reserved %s exceeds on hand %s at location %s sku %s", ErrInvariant, s.Reserved, s.OnHand, s.LocationID, s.SkuID)
	}
	return nil
}

// Reservation is one (batch, sku) allocation.
type Reservation struct {
	ID         string            `json:"id"`
	StoreID    string            `json:"store_id"`
	BatchID    string            `json:"batch_id"`
	SkuID      string            `json:"sku_id"`
	LocationID string            `json:"location_id"`
	Qty        decimal.Decimal   `json:"qty"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// LedgerEntry is an immutable record of one stock change.
type LedgerEntry struct {
	ID         int64           `json:"id"`
	StoreID    string          `json:"store_id"`
	LocationID string          `json:"location_id"`
	SkuID      string          `json:"sku_id"`
	Type       LedgerType      `json:"type"`
	Qty        decimal.Decimal `json:"qty"`
	RefType    RefType         `json:"ref_type"`
	RefID      string          `json:"ref_id"`
	Meta       map[string]any  `json:"meta,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// BatchRef is the slice of a production batch the reservation manager needs.
type BatchRef struct {
	ID              string
	StoreID         string
	InventoryStatus Status
}

// BatchLine is one production line contributing to material requirements.
type BatchLine struct {
	ProductID string
	VariantID string
	Qty       int
}

// Requirement is the total quantity of a sku a batch needs.
type Requirement struct {
	SkuID string          `json:"sku_id"`
	Qty   decimal.Decimal `json:"qty"`
}

// Shortage records a requirement the chosen location could not fully hold.
type Shortage struct {
	SkuID      string          `json:"sku_id"`
	LocationID string          `json:"location_id,omitempty"`
	Required   decimal.Decimal `json:"required"`
	Held       decimal.Decimal `json:"held"`
}

// ReservationResult is returned by ReserveForBatch.
type ReservationResult struct {
	BatchID      string        `json:"batch_id"`
	Status       Status        `json:"status"`
	Requirements []Requirement `json:"requirements"`
	Reservations []Reservation `json:"reservations"`
	Shortages    []Shortage    `json:"shortages,omitempty"`
	Released     []Reservation `json:"released,omitempty"`
}

// CreateLocationInput describes a new location.
type CreateLocationInput struct {
	Code string       `json:"code" validate:"required,max=64"`
	Name string       `json:"name" validate:"required,max=200"`
	Kind LocationKind `json:"kind" validate:"required,oneof=WAREHOUSE SHELF BIN EXTERNAL"`
}

// CreateSkuInput describes a new sku.
type CreateSkuInput struct {
	Code         string          `json:"code" validate:"required,max=64"`
	Name         string          `json:"name" validate:"required,max=200"`
	Unit         string          `json:"unit" validate:"omitempty,max=16"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	ReorderQty   decimal.Decimal `json:"reorder_qty"`
}

// MaterialMapInput describes a bill-of-materials edge.
type MaterialMapInput struct {
	ProductID  string          `json:"product_id" validate:"required"`
	VariantID  *string         `json:"variant_id,omitempty"`
	SkuID      string          `json:"sku_id" validate:"required,uuid"`
	QtyPerUnit decimal.Decimal `json:"qty_per_unit"`
}

// MovementInput describes a receipt, issue or adjustment.
type MovementInput struct {
	LocationID string          `json:"location_id" validate:"required,uuid"`
	SkuID      string          `json:"sku_id" validate:"required,uuid"`
	Qty        decimal.Decimal `json:"qty"`
	RefType    RefType         `json:"ref_type" validate:"omitempty,oneof=PO BATCH ORDER MANUAL"`
	RefID      string          `json:"ref_id" validate:"max=128"`
	Note       string          `json:"note" validate:"max=500"`
	ActorID    string          `json:"-"`
}

// StockFilter narrows ListStock.
type StockFilter struct {
	SkuID      string
	LocationID string
}

// LedgerFilter narrows ListLedger.
type LedgerFilter struct {
	SkuID      string
	LocationID string
	RefType    RefType
	RefID      string
	Limit      int
}

// LowStockRow is a sku whose free quantity fell below its reorder point.
type LowStockRow struct {
	StoreID      string          `json:"store_id"`
	SkuID        string          `json:"sku_id"`
	Code         string          `json:"code"`
	Available    decimal.Decimal `json:"available"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	ReorderQty   decimal.Decimal `json:"reorder_qty"`
}

var (
	// ErrInvariant wraps every stock mutation that would leave reserved outside [0, on hand].
	ErrInvariant = fmt.Errorf("inventory: %w", shared.ErrInventoryInvariant)
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: invalid quantity: %w", shared.ErrValidation)
	// ErrBatchNotFound is returned when the batch does not exist in the store.
	ErrBatchNotFound = fmt.Errorf("inventory: batch %w", shared.ErrNotFound)
	// ErrStockNotFound indicates a missing (location, sku) row.
	ErrStockNotFound = fmt.Errorf("inventory: stock row %w", shared.ErrNotFound)
	// ErrLocationNotFound indicates a location outside the store.
	ErrLocationNotFound = fmt.Errorf("inventory: location %w", shared.ErrNotFound)
	// ErrSkuNotFound indicates a sku outside the store.
	ErrSkuNotFound = fmt.Errorf("inventory: sku %w", shared.ErrNotFound)
	// ErrReservationNotFound indicates no reservation for (batch, sku).
	ErrReservationNotFound = fmt.Errorf("inventory: reservation %w", shared.ErrNotFound)
	// ErrMaterialMapNotFound indicates a missing bill-of-materials edge.
	ErrMaterialMapNotFound = fmt.Errorf("inventory: material map %w", shared.ErrNotFound)
	// ErrDuplicateCode indicates a location or sku code clash within a store.
	ErrDuplicateCode = fmt.Errorf("inventory: code already used: %w", shared.ErrConflict)
)
