package production

import (
	"fmt"
	"time"

	"github.com/stitchline/stitchline/internal/inventory"
	"github.com/stitchline/stitchline/internal/shared"
)

// Stage is a batch's position in the physical workflow.
type Stage string

const (
	StageArt       Stage = "ART"
	StageApproved  Stage = "APPROVED"
	StagePrint     Stage = "PRINT"
	StageCure      Stage = "CURE"
	StagePack      Stage = "PACK"
	StageShip      Stage = "SHIP"
	StageComplete  Stage = "COMPLETE"
	StageHold      Stage = "HOLD"
	StageCancelled Stage = "CANCELLED"
)

// Method is the decoration technique of a batch.
type Method string

const (
	MethodDTF        Method = "DTF"
	MethodEmbroidery Method = "EMBROIDERY"
	MethodScreen     Method = "SCREEN"
	MethodOther      Method = "OTHER"
)

// SourceType identifies what a batch was formed from.
type SourceType string

const (
	SourceOrder     SourceType = "ORDER"
	SourceBulkOrder SourceType = "BULK_ORDER"
)

// EventType classifies batch events.
type EventType string

const (
	EventCreated       EventType = "CREATED"
	EventAssigned      EventType = "ASSIGNED"
	EventUnassigned    EventType = "UNASSIGNED"
	EventStageChanged  EventType = "STAGE_CHANGED"
	EventShipped       EventType = "SHIPPED"
	EventCompleted     EventType = "COMPLETED"
	EventHold          EventType = "HOLD"
	EventCancelled     EventType = "CANCELLED"
	EventTicketPrinted EventType = "TICKET_PRINTED"
	EventExport        EventType = "EXPORT"
)

// ScanAction is a verb accepted by the scan interface.
type ScanAction string

const (
	ScanAdvance  ScanAction = "advance"
	ScanHold     ScanAction = "hold"
	ScanCancel   ScanAction = "cancel"
	ScanShip     ScanAction = "ship"
	ScanComplete ScanAction = "complete"
)

// Batch is one unit of physical work.
type Batch struct {
	ID                 string           `json:"id"`
	StoreID            string           `json:"store_id"`
	NetworkID          *string          `json:"network_id,omitempty"`
	FulfillmentStoreID *string          `json:"fulfillment_store_id,omitempty"`
	SourceType         SourceType       `json:"source_type"`
	SourceID           string           `json:"source_id"`
	GroupKey           string           `json:"group_key"`
	Method             Method           `json:"method"`
	Stage              Stage            `json:"stage"`
	Priority           int              `json:"priority"`
	Notes              string           `json:"notes"`
	DueAt              *time.Time       `json:"due_at,omitempty"`
	InventoryStatus    inventory.Status `json:"inventory_status"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Item is one grouped line of work inside a batch.
type Item struct {
	ID                     string    `json:"id"`
	BatchID                string    `json:"batch_id"`
	OrderID                *string   `json:"order_id,omitempty"`
	BulkOrderID            *string   `json:"bulk_order_id,omitempty"`
	ProductID              string    `json:"product_id"`
	VariantID              string    `json:"variant_id"`
	DesignID               *string   `json:"design_id,omitempty"`
	Location               string    `json:"location"`
	Qty                    int       `json:"qty"`
	PersonalizationSummary any       `json:"personalization_summary,omitempty"`
	AssetRef               []string  `json:"asset_ref"`
	CreatedAt              time.Time `json:"created_at"`
}

// Event is an append-only audit record of a batch.
type Event struct {
	ID        int64          `json:"id"`
	BatchID   string         `json:"batch_id"`
	Type      EventType      `json:"type"`
	FromStage *Stage         `json:"from_stage,omitempty"`
	ToStage   *Stage         `json:"to_stage,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Assignment records the operator responsible for a batch.
type Assignment struct {
	ID         string     `json:"id"`
	BatchID    string     `json:"batch_id"`
	OperatorID string     `json:"operator_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// ScanToken is an opaque capability bound to a batch.
type ScanToken struct {
	Token     string     `json:"token"`
	BatchID   string     `json:"batch_id"`
	StoreID   string     `json:"-"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t ScanToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// BatchDetail bundles a batch with its children.
type BatchDetail struct {
	Batch      Batch       `json:"batch"`
	Items      []Item      `json:"items"`
	Events     []Event     `json:"events"`
	Assignment *Assignment `json:"assignment,omitempty"`
}

// TransitionInput requests a stage change.
type TransitionInput struct {
	ToStage Stage  `json:"to_stage" validate:"required"`
	Note    string `json:"note" validate:"max=1000"`
	ActorID string `json:"-"`
	Via     string `json:"-"`
}

// ListFilter narrows ListBatches.
type ListFilter struct {
	Stage              Stage
	Method             Method
	FulfillmentStoreID string
	CampaignID         string
	Query              string
	Page               int
	PageSize           int
}

// ListResult is one page of batches.
type ListResult struct {
	Batches    []Batch           `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

var (
	// ErrBatchNotFound indicates the batch does not exist in the store.
	ErrBatchNotFound = fmt.Errorf("production: batch %w", shared.ErrNotFound)
	// ErrTokenNotFound indicates an unknown scan token.
	ErrTokenNotFound = fmt.Errorf("production: scan token %w", shared.ErrNotFound)
	// ErrSourceNotFound indicates the order or bulk order does not exist.
	ErrSourceNotFound = fmt.Errorf("production: source %w", shared.ErrNotFound)
	// ErrNoOpenAssignment indicates the batch has no operator to unassign.
	ErrNoOpenAssignment = fmt.Errorf("production: open assignment %w", shared.ErrNotFound)
	// ErrInvalidTransition indicates an illegal stage move.
	ErrInvalidTransition = fmt.Errorf("production: %w", shared.ErrInvalidTransition)
	// ErrTokenExpired indicates a scan token past its expiry.
	ErrTokenExpired = fmt.Errorf("production: scan token expired: %w", shared.ErrInvalidTransition)
	// ErrPrintGate indicates the batch is not cleared to print.
	ErrPrintGate = fmt.Errorf("production: %w", shared.ErrPrintGate)
	// ErrDuplicateScan indicates a scan retried with an already applied idempotency key.
	ErrDuplicateScan = fmt.Errorf("production: scan already applied: %w", shared.ErrConflict)
	// ErrEmptySource indicates a source without line items.
	ErrEmptySource = fmt.Errorf("production: source has no line items: %w", shared.ErrValidation)
)
