package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stitchline/stitchline/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateLocation(ctx context.Context, loc Location) (Location, error)
	ListLocations(ctx context.Context, storeID string) ([]Location, error)
	CreateSku(ctx context.Context, sku Sku) (Sku, error)
	ListSkus(ctx context.Context, storeID string) ([]Sku, error)
	UpsertMaterialMap(ctx context.Context, m MaterialMap) (MaterialMap, error)
	ListMaterialMapsForProduct(ctx context.Context, storeID, productID string) ([]MaterialMap, error)
	DeleteMaterialMap(ctx context.Context, storeID, id string) error
	ListStock(ctx context.Context, storeID string, filter StockFilter) ([]Stock, error)
	ListLedger(ctx context.Context, storeID string, filter LedgerFilter) ([]LedgerEntry, error)
	StreamLedger(ctx context.Context, storeID string) ([]LedgerEntry, error)
	ListReservations(ctx context.Context, storeID, batchID string) ([]Reservation, error)
	ListStoreIDs(ctx context.Context) ([]string, error)
	ListLowStock(ctx context.Context, storeID string) ([]LowStockRow, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives stock counters.
type MetricsPort interface {
	ObserveLedgerEntry(entryType string)
	ObserveReservation(status string)
}

// Service coordinates inventory operations.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	metrics  MetricsPort
	picker   LocationPicker
	validate *validator.Validate
	logger   *slog.Logger
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Picker  LocationPicker
	Metrics MetricsPort
	Logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	picker := cfg.Picker
	if picker == nil {
		picker = GreedyPicker{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		metrics:  cfg.Metrics,
		picker:   picker,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "inventory")),
	}
}

// CreateLocation registers a stock location for the store.
func (s *Service) CreateLocation(ctx context.Context, storeID string, input CreateLocationInput) (Location, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return Location{}, err
	}
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return Location{}, fmt.Errorf("inventory: %w: %v", shared.ErrValidation, err)
	}
	return s.repo.CreateLocation(ctx, Location{
		ID:      uuid.NewString(),
		StoreID: storeID,
		Code:    input.Code,
		Name:    input.Name,
		Kind:    input.Kind,
	})
}

// ListLocations lists the store's locations.
func (s *Service) ListLocations(ctx context.Context, storeID string) ([]Location, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return nil, err
	}
	return s.repo.ListLocations(ctx, storeID)
}

// CreateSku registers a stock-keeping unit for the store.
func (s *Service) CreateSku(ctx context.Context, storeID string, input CreateSkuInput) (Sku, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return Sku{}, err
	}
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return Sku{}, fmt.Errorf("inventory: %w: %v", shared.ErrValidation, err)
	}
	if input.ReorderPoint.IsNegative() || input.ReorderQty.IsNegative() {
		return Sku{}, ErrInvalidQuantity
	}
	unit := input.Unit
	if unit == "" {
		unit = "ea"
	}
	return s.repo.CreateSku(ctx, Sku{
		ID:           uuid.NewString(),
		StoreID:      storeID,
		Code:         input.Code,
		Name:         input.Name,
		Unit:         unit,
		ReorderPoint: input.ReorderPoint,
		ReorderQty:   input.ReorderQty,
	})
}

// ListSkus lists the store's skus.
func (s *Service) ListSkus(ctx context.Context, storeID string) ([]Sku, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return nil, err
	}
	return s.repo.ListSkus(ctx, storeID)
}

// UpsertMaterialMap creates or replaces the quantity of a bill-of-materials edge.
func (s *Service) UpsertMaterialMap(ctx context.Context, storeID string, input MaterialMapInput) (MaterialMap, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return MaterialMap{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return MaterialMap{}, fmt.Errorf("inventory: %w: %v", shared.ErrValidation, err)
	}
	if !input.QtyPerUnit.IsPositive() {
		return MaterialMap{}, ErrInvalidQuantity
	}
	if input.VariantID != nil && strings.TrimSpace(*input.VariantID) == "" {
		input.VariantID = nil
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.GetSku(ctx, storeID, input.SkuID)
		return err
	})
	if err != nil {
		return MaterialMap{}, err
	}
	return s.repo.UpsertMaterialMap(ctx, MaterialMap{
		ID:         uuid.NewString(),
		StoreID:    storeID,
		ProductID:  input.ProductID,
		VariantID:  input.VariantID,
		SkuID:      input.SkuID,
		QtyPerUnit: input.QtyPerUnit,
	})
}

// ListMaterialMaps returns the edges of one product.
func (s *Service) ListMaterialMaps(ctx context.Context, storeID, productID string) ([]MaterialMap, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return nil, err
	}
	if productID == "" {
		return nil, fmt.Errorf("inventory: product id required: %w", shared.ErrValidation)
	}
	return s.repo.ListMaterialMapsForProduct(ctx, storeID, productID)
}

// DeleteMaterialMap removes an edge.
func (s *Service) DeleteMaterialMap(ctx context.Context, storeID, id string) error {
	if err := shared.RequireStore(storeID); err != nil {
		return err
	}
	return s.repo.DeleteMaterialMap(ctx, storeID, id)
}

// ListStock lists current stock rows.
func (s *Service) ListStock(ctx context.Context, storeID string, filter StockFilter) ([]Stock, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return nil, err
	}
	return s.repo.ListStock(ctx, storeID, filter)
}

// ListLedger lists ledger entries newest first.
func (s *Service) ListLedger(ctx context.Context, storeID string, filter LedgerFilter) ([]LedgerEntry, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return nil, err
	}
	return s.repo.ListLedger(ctx, storeID, filter)
}

// ListLowStock lists skus below their reorder point.
func (s *Service) ListLowStock(ctx context.Context, storeID string) ([]LowStockRow, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return nil, err
	}
	return s.repo.ListLowStock(ctx, storeID)
}

// ListStoreIDs returns every store holding stock.
func (s *Service) ListStoreIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListStoreIDs(ctx)
}

// ReceiveStock posts inbound stock.
func (s *Service) ReceiveStock(ctx context.Context, storeID string, input MovementInput) (Stock, error) {
	if !input.Qty.IsPositive() {
		return Stock{}, ErrInvalidQuantity
	}
	if input.RefType == "" {
		input.RefType = RefManual
	}
	if input.RefType != RefPO && input.RefType != RefManual {
		return Stock{}, fmt.Errorf("inventory: receipts reference PO or MANUAL: %w", shared.ErrValidation)
	}
	return s.postMovement(ctx, storeID, input, LedgerReceipt, input.Qty)
}

// AdjustStock posts a signed correction of on-hand stock.
func (s *Service) AdjustStock(ctx context.Context, storeID string, input MovementInput) (Stock, error) {
	if input.Qty.IsZero() {
		return Stock{}, ErrInvalidQuantity
	}
	if input.RefType == "" {
		input.RefType = RefManual
	}
	return s.postMovement(ctx, storeID, input, LedgerAdjustment, input.Qty)
}

// IssueStock removes unreserved stock.
func (s *Service) IssueStock(ctx context.Context, storeID string, input MovementInput) (Stock, error) {
	if !input.Qty.IsPositive() {
		return Stock{}, ErrInvalidQuantity
	}
	if input.RefType == "" {
		input.RefType = RefManual
	}
	return s.postMovement(ctx, storeID, input, LedgerIssue, input.Qty.Neg())
}

func (s *Service) postMovement(ctx context.Context, storeID string, input MovementInput, entryType LedgerType, delta decimal.Decimal) (Stock, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return Stock{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return Stock{}, fmt.Errorf("inventory: %w: %v", shared.ErrValidation, err)
	}
	var stock Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetLocation(ctx, storeID, input.LocationID); err != nil {
			return err
		}
		if _, err := tx.GetSku(ctx, storeID, input.SkuID); err != nil {
			return err
		}
		meta := map[string]any{}
		if input.Note != "" {
			meta["note"] = input.Note
		}
		if input.ActorID != "" {
			meta["actor_id"] = input.ActorID
		}
		var err error
		stock, err = applyMovement(ctx, tx, movementParams{
			StoreID:       storeID,
			LocationID:    input.LocationID,
			SkuID:         input.SkuID,
			OnHandDelta:   delta,
			ReservedDelta: decimal.Zero,
			Type:          entryType,
			Qty:           delta,
			RefType:       input.RefType,
			RefID:         input.RefID,
			Meta:          meta,
			CreateMissing: true,
		})
		return err
	})
	if err != nil {
		return Stock{}, err
	}
	s.observeLedger(entryType)
	s.record(ctx, shared.AuditLog{
		StoreID:  storeID,
		ActorID:  input.ActorID,
		Action:   "inventory." + strings.ToLower(string(entryType)),
		Entity:   "inventory_stock",
		EntityID: input.LocationID + ":" + input.SkuID,
		Meta:     map[string]any{"qty": delta.String(), "ref_type": input.RefType, "ref_id": input.RefID},
	})
	return stock, nil
}

type movementParams struct {
	StoreID       string
	LocationID    string
	SkuID         string
	OnHandDelta   decimal.Decimal
	ReservedDelta decimal.Decimal
	Type          LedgerType
	Qty           decimal.Decimal
	RefType       RefType
	RefID         string
	Meta          map[string]any
	CreateMissing bool
}

// applyMovement locks one stock row, applies both deltas, validates the invariant,
// writes the row and appends the ledger entry. Callers run it inside WithTx.
func applyMovement(ctx context.Context, tx TxRepository, params movementParams) (Stock, error) {
	stock, err := tx.GetStockForUpdate(ctx, params.LocationID, params.SkuID)
	if err != nil {
		if !errors.Is(err, ErrStockNotFound) || !params.CreateMissing {
			return Stock{}, err
		}
		stock = Stock{StoreID: params.StoreID, LocationID: params.LocationID, SkuID: params.SkuID}
	}
	if stock.StoreID == "" {
		stock.StoreID = params.StoreID
	}
	stock.OnHand = stock.OnHand.Add(params.OnHandDelta)
	stock.Reserved = stock.Reserved.Add(params.ReservedDelta)
	if stock.OnHand.IsNegative() {
		return Stock{}, fmt.Errorf("%w: on hand %s below zero at location %s sku %s", ErrInvariant, stock.OnHand, stock.LocationID, stock.SkuID)
	}
	if err := stock.Validate(); err != nil {
		return Stock{}, err
	}
	if err := tx.UpsertStock(ctx, stock); err != nil {
		return Stock{}, err
	}
	if _, err := tx.InsertLedgerEntry(ctx, LedgerEntry{
		StoreID:    params.StoreID,
		LocationID: params.LocationID,
		SkuID:      params.SkuID,
		Type:       params.Type,
		Qty:        params.Qty,
		RefType:    params.RefType,
		RefID:      params.RefID,
		Meta:       params.Meta,
	}); err != nil {
		return Stock{}, err
	}
	return stock, nil
}

func (s *Service) observeLedger(entryType LedgerType) {
	if s.metrics != nil {
		s.metrics.ObserveLedgerEntry(string(entryType))
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}
