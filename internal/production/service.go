package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stitchline/stitchline/internal/inventory"
	"github.com/stitchline/stitchline/internal/orders"
	"github.com/stitchline/stitchline/internal/platform/db"
	"github.com/stitchline/stitchline/internal/shared"
)

// FlagInventoryEnforcement gates the PRINT inventory guard per store.
const FlagInventoryEnforcement = "inventory_enforcement"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBatchesBySource(ctx context.Context, storeID string, sourceType SourceType, sourceID string) ([]Batch, error)
	GetBatch(ctx context.Context, storeID, batchID string) (Batch, error)
	ListItems(ctx context.Context, batchID string) ([]Item, error)
	ListEvents(ctx context.Context, batchID string) ([]Event, error)
	GetOpenAssignment(ctx context.Context, batchID string) (Assignment, error)
	ListBatches(ctx context.Context, storeID string, filter ListFilter, limit, offset int) ([]Batch, int, error)
	GetScanToken(ctx context.Context, token string) (ScanToken, error)
	OldestValidToken(ctx context.Context, batchID string, now time.Time) (ScanToken, error)
	InsertScanToken(ctx context.Context, token ScanToken) error
	InsertEvent(ctx context.Context, event Event) error
}

// OrdersPort resolves upstream sources into line items.
type OrdersPort interface {
	OrderLines(ctx context.Context, storeID, orderID string) (orders.Order, error)
	BulkOrderOrders(ctx context.Context, storeID, bulkOrderID string) ([]string, error)
}

// InventoryPort is the reservation manager as seen from production.
type InventoryPort interface {
	ReserveForBatch(ctx context.Context, storeID, batchID string) (inventory.ReservationResult, error)
	ReleaseBatch(ctx context.Context, storeID, batchID string) ([]inventory.Reservation, error)
	ConsumeBatch(ctx context.Context, storeID, batchID string) ([]inventory.Reservation, error)
	ListBatchReservations(ctx context.Context, storeID, batchID string) ([]inventory.Reservation, error)
}

// FlagsPort reads per-store feature flags.
type FlagsPort interface {
	Enabled(ctx context.Context, storeID, key string) (bool, error)
}

// PDFPort converts rendered ticket HTML into PDF.
type PDFPort interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// IdempotencyPort claims request keys so retried scans apply once.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives production counters.
type MetricsPort interface {
	ObserveBatchesFormed(sourceType string, count int)
	ObserveTransition(from, to string)
	ObserveScan(action, outcome string)
}

// ServiceConfig groups behaviour switches.
type ServiceConfig struct {
	ScanTokenTTL      time.Duration
	ConsumeOnComplete bool
	ReleaseOnCancel   bool
	Now               func() time.Time
}

// Service coordinates batch formation, the stage machine and the scan interface.
type Service struct {
	repo      RepositoryPort
	orders    OrdersPort
	inventory InventoryPort
	flags     FlagsPort
	audit     AuditPort
	metrics   MetricsPort
	tickets   *TicketRenderer
	pdf       PDFPort
	assets    AssetFetcher
	idem      IdempotencyPort
	cfg       ServiceConfig
	logger    *slog.Logger
}

// Deps bundles the collaborators of Service. Only Repo is required.
type Deps struct {
	Repo        RepositoryPort
	Orders      OrdersPort
	Inventory   InventoryPort
	Flags       FlagsPort
	Audit       AuditPort
	Metrics     MetricsPort
	Tickets     *TicketRenderer
	PDF         PDFPort
	Assets      AssetFetcher
	Idempotency IdempotencyPort
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(deps Deps, cfg ServiceConfig) *Service {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      deps.Repo,
		orders:    deps.Orders,
		inventory: deps.Inventory,
		flags:     deps.Flags,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		tickets:   deps.Tickets,
		pdf:       deps.PDF,
		assets:    deps.Assets,
		idem:      deps.Idempotency,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "production")),
	}
}

// FormationResult is returned by batch formation.
type FormationResult struct {
	Batches []Batch `json:"batches"`
	Created bool    `json:"created"`
}

// CreateFromOrder forms batches for an order. A second call for the same order returns the existing batches.
func (s *Service) CreateFromOrder(ctx context.Context, storeID, orderID, actorID string) (FormationResult, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return FormationResult{}, err
	}
	if existing, err := s.repo.ListBatchesBySource(ctx, storeID, SourceOrder, orderID); err != nil {
		return FormationResult{}, err
	} else if len(existing) > 0 {
		return FormationResult{Batches: existing}, nil
	}
	if s.orders == nil {
		return FormationResult{}, errors.New("production: orders collaborator not configured")
	}
	order, err := s.orders.OrderLines(ctx, storeID, orderID)
	if err != nil {
		return FormationResult{}, err
	}
	lines := make([]SourceLine, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, SourceLine{OrderID: order.ID, Line: l})
	}
	return s.FormBatches(ctx, storeID, Source{
		Type:               SourceOrder,
		ID:                 orderID,
		NetworkID:          order.NetworkID,
		FulfillmentStoreID: order.FulfillmentStoreID,
		DueAt:              order.DueAt,
	}, lines, actorID)
}

// CreateFromBulkOrder forms batches for every order consolidated into a bulk-order run.
func (s *Service) CreateFromBulkOrder(ctx context.Context, storeID, bulkOrderID, actorID string) (FormationResult, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return FormationResult{}, err
	}
	if existing, err := s.repo.ListBatchesBySource(ctx, storeID, SourceBulkOrder, bulkOrderID); err != nil {
		return FormationResult{}, err
	} else if len(existing) > 0 {
		return FormationResult{Batches: existing}, nil
	}
	if s.orders == nil {
		return FormationResult{}, errors.New("production: orders collaborator not configured")
	}
	orderIDs, err := s.orders.BulkOrderOrders(ctx, storeID, bulkOrderID)
	if err != nil {
		return FormationResult{}, err
	}
	src := Source{Type: SourceBulkOrder, ID: bulkOrderID}
	var lines []SourceLine
	for _, orderID := range orderIDs {
		order, err := s.orders.OrderLines(ctx, storeID, orderID)
		if err != nil {
			return FormationResult{}, fmt.Errorf("production: bulk order %s: %w", bulkOrderID, err)
		}
		if src.NetworkID == nil {
			src.NetworkID = order.NetworkID
		}
		if src.FulfillmentStoreID == nil {
			src.FulfillmentStoreID = order.FulfillmentStoreID
		}
		if order.DueAt != nil && (src.DueAt == nil || order.DueAt.Before(*src.DueAt)) {
			src.DueAt = order.DueAt
		}
		for _, l := range order.Lines {
			lines = append(lines, SourceLine{OrderID: order.ID, BulkOrderID: bulkOrderID, Line: l})
		}
	}
	return s.FormBatches(ctx, storeID, src, lines, actorID)
}

// FormBatches groups lines into new batches unless the source already has batches.
func (s *Service) FormBatches(ctx context.Context, storeID string, src Source, lines []SourceLine, actorID string) (FormationResult, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return FormationResult{}, err
	}
	if src.Type != SourceOrder && src.Type != SourceBulkOrder {
		return FormationResult{}, fmt.Errorf("production: unknown source type %q: %w", src.Type, shared.ErrValidation)
	}
	if strings.TrimSpace(src.ID) == "" {
		return FormationResult{}, fmt.Errorf("production: source id required: %w", shared.ErrValidation)
	}
	drafts, err := groupLines(lines)
	if err != nil {
		return FormationResult{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	now := s.cfg.Now()
	var result FormationResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = FormationResult{}
		existing, err := tx.ListBatchesBySource(ctx, storeID, src.Type, src.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			result.Batches = existing
			return nil
		}
		if len(drafts) == 0 {
			return ErrEmptySource
		}
		for _, d := range drafts {
			b, err := s.insertDraft(ctx, tx, storeID, src, d, actorID, now)
			if err != nil {
				return err
			}
			result.Batches = append(result.Batches, b)
		}
		result.Created = true
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			// A concurrent formation for the same source won the race.
			existing, rerr := s.repo.ListBatchesBySource(ctx, storeID, src.Type, src.ID)
			if rerr == nil && len(existing) > 0 {
				return FormationResult{Batches: existing}, nil
			}
		}
		return FormationResult{}, err
	}
	sortBatches(result.Batches)
	if result.Created {
		if s.metrics != nil {
			s.metrics.ObserveBatchesFormed(string(src.Type), len(result.Batches))
		}
		s.logger.InfoContext(ctx, "batches formed",
			slog.String("store_id", storeID),
			slog.String("source_type", string(src.Type)),
			slog.String("source_id", src.ID),
			slog.Int("batches", len(result.Batches)))
		s.record(ctx, shared.AuditLog{
			StoreID:  storeID,
			ActorID:  actorID,
			Action:   "production.batches_formed",
			Entity:   strings.ToLower(string(src.Type)),
			EntityID: src.ID,
			Meta:     map[string]any{"batches": len(result.Batches)},
		})
	}
	return result, nil
}

func (s *Service) insertDraft(ctx context.Context, tx TxRepository, storeID string, src Source, d draft, actorID string, now time.Time) (Batch, error) {
	b := Batch{
		ID:                 uuid.NewString(),
		StoreID:            storeID,
		NetworkID:          src.NetworkID,
		FulfillmentStoreID: src.FulfillmentStoreID,
		SourceType:         src.Type,
		SourceID:           src.ID,
		GroupKey:           d.GroupKey,
		Method:             d.Method,
		Stage:              StageArt,
		Priority:           src.Priority,
		DueAt:              src.DueAt,
		InventoryStatus:    inventory.StatusNotChecked,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := tx.InsertBatch(ctx, b); err != nil {
		return Batch{}, err
	}
	items := make([]Item, len(d.Items))
	for i, item := range d.Items {
		item.ID = uuid.NewString()
		item.BatchID = b.ID
		item.CreatedAt = now
		items[i] = item
	}
	if err := tx.InsertItems(ctx, items); err != nil {
		return Batch{}, err
	}
	art := StageArt
	if err := tx.InsertEvent(ctx, Event{
		BatchID: b.ID,
		Type:    EventCreated,
		ToStage: &art,
		ActorID: actorID,
		Meta:    map[string]any{"source_type": string(src.Type), "source_id": src.ID, "items": len(items)},
	}); err != nil {
		return Batch{}, err
	}
	token, err := newScanToken(b.ID, now, s.cfg.ScanTokenTTL)
	if err != nil {
		return Batch{}, err
	}
	if err := tx.InsertScanToken(ctx, token); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Transition moves a batch to another stage.
func (s *Service) Transition(ctx context.Context, storeID, batchID string, input TransitionInput) (Batch, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return Batch{}, err
	}
	to, ok := ParseStage(string(input.ToStage))
	if !ok {
		return Batch{}, fmt.Errorf("production: unknown stage %q: %w", input.ToStage, shared.ErrValidation)
	}
	current, err := s.repo.GetBatch(ctx, storeID, batchID)
	if err != nil {
		return Batch{}, err
	}
	if err := ValidateTransition(current.Stage, to); err != nil {
		return Batch{}, err
	}

	enforce := true
	if to == StagePrint {
		enforce = s.inventoryEnforced(ctx, storeID)
	}
	consume := to == StageComplete && s.cfg.ConsumeOnComplete && s.inventory != nil

	var updated Batch
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, storeID, batchID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(b.Stage, to); err != nil {
			return err
		}
		if to == StagePrint && enforce {
			if err := checkPrintGate(ctx, tx, b); err != nil {
				return err
			}
		}
		// ctx carries the stage transaction; the consume joins it and rolls back with it.
		if consume {
			if _, err := s.inventory.ConsumeBatch(ctx, storeID, b.ID); err != nil {
				return fmt.Errorf("production: consume before complete: %w", err)
			}
		}
		from := b.Stage
		b.Notes = appendNote(b.Notes, input.Note)
		if err := tx.UpdateBatchStage(ctx, b.ID, to, b.Notes); err != nil {
			return err
		}
		meta := map[string]any{}
		if input.Note != "" {
			meta["note"] = input.Note
		}
		if input.Via != "" {
			meta["via"] = input.Via
		}
		if err := tx.InsertEvent(ctx, Event{
			BatchID:   b.ID,
			Type:      EventTypeFor(to),
			FromStage: &from,
			ToStage:   &to,
			ActorID:   input.ActorID,
			Meta:      meta,
		}); err != nil {
			return err
		}
		b.Stage = to
		b.UpdatedAt = s.cfg.Now()
		updated = b
		return nil
	})
	if err != nil {
		return Batch{}, err
	}

	if to == StageCancelled && s.cfg.ReleaseOnCancel && s.inventory != nil {
		if _, err := s.inventory.ReleaseBatch(ctx, storeID, batchID); err != nil {
			s.logger.WarnContext(ctx, "release after cancel failed",
				slog.String("store_id", storeID),
				slog.String("batch_id", batchID),
				slog.Any("error", err))
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(current.Stage), string(to))
	}
	s.logger.InfoContext(ctx, "batch stage changed",
		slog.String("store_id", storeID),
		slog.String("batch_id", batchID),
		slog.String("from_stage", string(current.Stage)),
		slog.String("to_stage", string(to)))
	return updated, nil
}

func checkPrintGate(ctx context.Context, tx TxRepository, b Batch) error {
	switch b.InventoryStatus {
	case inventory.StatusNotMapped, inventory.StatusLowStock:
		return fmt.Errorf("%w: inventory status is %s", ErrPrintGate, b.InventoryStatus)
	}
	held, err := tx.CountHeldReservations(ctx, b.ID)
	if err != nil {
		return err
	}
	if held == 0 {
		return fmt.Errorf("%w: no held reservation", ErrPrintGate)
	}
	return nil
}

func (s *Service) inventoryEnforced(ctx context.Context, storeID string) bool {
	if s.flags == nil {
		return true
	}
	enabled, err := s.flags.Enabled(ctx, storeID, FlagInventoryEnforcement)
	if err != nil {
		s.logger.WarnContext(ctx, "feature flag lookup failed, enforcing inventory",
			slog.String("store_id", storeID), slog.Any("error", err))
		return true
	}
	return enabled
}

func appendNote(notes, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return notes
	}
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

// Assign hands the batch to an operator, closing any open assignment first.
func (s *Service) Assign(ctx context.Context, storeID, batchID, operatorID, actorID string) (Assignment, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return Assignment{}, err
	}
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return Assignment{}, fmt.Errorf("production: operator id required: %w", shared.ErrValidation)
	}
	now := s.cfg.Now()
	var assignment Assignment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, storeID, batchID)
		if err != nil {
			return err
		}
		if b.Stage.IsTerminal() {
			return fmt.Errorf("%w: cannot assign a %s batch", ErrInvalidTransition, b.Stage)
		}
		open, err := tx.GetOpenAssignmentForUpdate(ctx, b.ID)
		switch {
		case err == nil:
			if open.OperatorID == operatorID {
				assignment = open
				return nil
			}
			if err := tx.ReleaseAssignment(ctx, open.ID, now); err != nil {
				return err
			}
			if err := tx.InsertEvent(ctx, Event{
				BatchID: b.ID,
				Type:    EventUnassigned,
				ActorID: actorID,
				Meta:    map[string]any{"operator_id": open.OperatorID},
			}); err != nil {
				return err
			}
		case !errors.Is(err, ErrNoOpenAssignment):
			return err
		}
		assignment = Assignment{ID: uuid.NewString(), BatchID: b.ID, OperatorID: operatorID, AssignedAt: now}
		if err := tx.InsertAssignment(ctx, assignment); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, Event{
			BatchID: b.ID,
			Type:    EventAssigned,
			ActorID: actorID,
			Meta:    map[string]any{"operator_id": operatorID},
		})
	})
	if err != nil {
		return Assignment{}, err
	}
	return assignment, nil
}

// Unassign closes the batch's open assignment.
func (s *Service) Unassign(ctx context.Context, storeID, batchID, actorID string) (Assignment, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return Assignment{}, err
	}
	now := s.cfg.Now()
	var released Assignment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, storeID, batchID)
		if err != nil {
			return err
		}
		open, err := tx.GetOpenAssignmentForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		if err := tx.ReleaseAssignment(ctx, open.ID, now); err != nil {
			return err
		}
		open.ReleasedAt = &now
		released = open
		return tx.InsertEvent(ctx, Event{
			BatchID: b.ID,
			Type:    EventUnassigned,
			ActorID: actorID,
			Meta:    map[string]any{"operator_id": open.OperatorID},
		})
	})
	if err != nil {
		return Assignment{}, err
	}
	return released, nil
}

// GetBatch returns a batch with its items, events and open assignment.
func (s *Service) GetBatch(ctx context.Context, storeID, batchID string) (BatchDetail, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return BatchDetail{}, err
	}
	b, err := s.repo.GetBatch(ctx, storeID, batchID)
	if err != nil {
		return BatchDetail{}, err
	}
	return s.detail(ctx, b)
}

func (s *Service) detail(ctx context.Context, b Batch) (BatchDetail, error) {
	items, err := s.repo.ListItems(ctx, b.ID)
	if err != nil {
		return BatchDetail{}, err
	}
	events, err := s.repo.ListEvents(ctx, b.ID)
	if err != nil {
		return BatchDetail{}, err
	}
	detail := BatchDetail{Batch: b, Items: items, Events: events}
	open, err := s.repo.GetOpenAssignment(ctx, b.ID)
	switch {
	case err == nil:
		detail.Assignment = &open
	case !errors.Is(err, ErrNoOpenAssignment):
		return BatchDetail{}, err
	}
	return detail, nil
}

// ListBatches returns one page of the store's batches.
func (s *Service) ListBatches(ctx context.Context, storeID string, filter ListFilter) (ListResult, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return ListResult{}, err
	}
	if filter.Stage != "" {
		stage, ok := ParseStage(string(filter.Stage))
		if !ok {
			return ListResult{}, fmt.Errorf("production: unknown stage %q: %w", filter.Stage, shared.ErrValidation)
		}
		filter.Stage = stage
	}
	if filter.Method != "" {
		filter.Method = Method(strings.ToUpper(string(filter.Method)))
		switch filter.Method {
		case MethodDTF, MethodEmbroidery, MethodScreen, MethodOther:
		default:
			return ListResult{}, fmt.Errorf("production: unknown method %q: %w", filter.Method, shared.ErrValidation)
		}
	}
	page, perPage := shared.NormalizePage(filter.Page, filter.PageSize)
	paging := shared.Pagination{Page: page, PerPage: perPage}
	batches, total, err := s.repo.ListBatches(ctx, storeID, filter, perPage, paging.Offset())
	if err != nil {
		return ListResult{}, err
	}
	if batches == nil {
		batches = []Batch{}
	}
	return ListResult{Batches: batches, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// EnsureScanToken returns the batch's oldest live token, minting one when none is left.
func (s *Service) EnsureScanToken(ctx context.Context, storeID, batchID string) (ScanToken, error) {
	if err := shared.RequireStore(storeID); err != nil {
		return ScanToken{}, err
	}
	b, err := s.repo.GetBatch(ctx, storeID, batchID)
	if err != nil {
		return ScanToken{}, err
	}
	now := s.cfg.Now()
	token, err := s.repo.OldestValidToken(ctx, b.ID, now)
	if err == nil {
		token.StoreID = storeID
		return token, nil
	}
	if !errors.Is(err, ErrTokenNotFound) {
		return ScanToken{}, err
	}
	token, err = newScanToken(b.ID, now, s.cfg.ScanTokenTTL)
	if err != nil {
		return ScanToken{}, err
	}
	if err := s.repo.InsertScanToken(ctx, token); err != nil {
		return ScanToken{}, err
	}
	token.StoreID = storeID
	return token, nil
}

// ScanSummary is what a scanning device sees.
type ScanSummary struct {
	Batch   BatchDetail  `json:"batch"`
	Actions []ScanAction `json:"actions"`
}

// ResolveScan returns the batch a token controls.
func (s *Service) ResolveScan(ctx context.Context, token string) (ScanSummary, error) {
	tok, err := s.liveToken(ctx, token)
	if err != nil {
		return ScanSummary{}, err
	}
	b, err := s.repo.GetBatch(ctx, tok.StoreID, tok.BatchID)
	if err != nil {
		return ScanSummary{}, err
	}
	detail, err := s.detail(ctx, b)
	if err != nil {
		return ScanSummary{}, err
	}
	return ScanSummary{Batch: detail, Actions: availableActions(b.Stage)}, nil
}

// Scan applies a verb through a token. The token is the only authorisation.
func (s *Service) Scan(ctx context.Context, token string, action ScanAction, note, actorID string) (Batch, error) {
	outcome := "ok"
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveScan(scanLabel(action), outcome)
		}
	}()
	tok, err := s.liveToken(ctx, token)
	if err != nil {
		outcome = "rejected"
		return Batch{}, err
	}
	b, err := s.repo.GetBatch(ctx, tok.StoreID, tok.BatchID)
	if err != nil {
		outcome = "error"
		return Batch{}, err
	}
	to, err := TargetForAction(b.Stage, action)
	if err != nil {
		outcome = "rejected"
		return Batch{}, err
	}
	updated, err := s.Transition(ctx, tok.StoreID, tok.BatchID, TransitionInput{ToStage: to, Note: note, ActorID: actorID, Via: "scan"})
	if err != nil {
		outcome = "rejected"
		return Batch{}, err
	}
	return updated, nil
}

// ScanOnce applies Scan at most once per key. The key is freed again when the scan fails,
// so the operator can retry. Without a key or a key store it behaves like Scan.
func (s *Service) ScanOnce(ctx context.Context, key, token string, action ScanAction, note, actorID string) (Batch, error) {
	key = strings.TrimSpace(key)
	if key == "" || s.idem == nil {
		return s.Scan(ctx, token, action, note, actorID)
	}
	module := "scan:" + strings.TrimSpace(token)
	if err := s.idem.CheckAndInsert(ctx, key, module); err != nil {
		if errors.Is(err, shared.ErrConflict) {
			return Batch{}, fmt.Errorf("%w: %s", ErrDuplicateScan, key)
		}
		return Batch{}, err
	}
	b, err := s.Scan(ctx, token, action, note, actorID)
	if err != nil {
		if delErr := s.idem.Delete(ctx, key, module); delErr != nil {
			s.logger.WarnContext(ctx, "release scan key", slog.String("key", key), slog.Any("error", delErr))
		}
		return Batch{}, err
	}
	return b, nil
}

func scanLabel(action ScanAction) string {
	switch a := ScanAction(strings.ToLower(string(action))); a {
	case ScanAdvance, ScanHold, ScanCancel, ScanShip, ScanComplete:
		return string(a)
	default:
		return "unknown"
	}
}

func (s *Service) liveToken(ctx context.Context, token string) (ScanToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ScanToken{}, ErrTokenNotFound
	}
	tok, err := s.repo.GetScanToken(ctx, token)
	if err != nil {
		return ScanToken{}, err
	}
	if tok.Expired(s.cfg.Now()) {
		return ScanToken{}, ErrTokenExpired
	}
	return tok, nil
}

func availableActions(stage Stage) []ScanAction {
	if stage.IsTerminal() {
		return []ScanAction{}
	}
	var actions []ScanAction
	if _, ok := NextStage(stage); ok {
		actions = append(actions, ScanAdvance)
	}
	for _, candidate := range []struct {
		action ScanAction
		stage  Stage
	}{
		{ScanHold, StageHold},
		{ScanCancel, StageCancelled},
		{ScanShip, StageShip},
		{ScanComplete, StageComplete},
	} {
		if ValidateTransition(stage, candidate.stage) == nil {
			actions = append(actions, candidate.action)
		}
	}
	return actions
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}

// ReserveInventory runs the reservation manager for one of the store's batches.
func (s *Service) ReserveInventory(ctx context.Context, storeID, batchID string) (inventory.ReservationResult, error) {
	if err := s.requireInventory(); err != nil {
		return inventory.ReservationResult{}, err
	}
	return s.inventory.ReserveForBatch(ctx, storeID, batchID)
}

// ReleaseInventory frees the held stock of a batch.
func (s *Service) ReleaseInventory(ctx context.Context, storeID, batchID string) ([]inventory.Reservation, error) {
	if err := s.requireInventory(); err != nil {
		return nil, err
	}
	return s.inventory.ReleaseBatch(ctx, storeID, batchID)
}

// ConsumeInventory permanently deducts the held stock of a batch.
func (s *Service) ConsumeInventory(ctx context.Context, storeID, batchID string) ([]inventory.Reservation, error) {
	if err := s.requireInventory(); err != nil {
		return nil, err
	}
	return s.inventory.ConsumeBatch(ctx, storeID, batchID)
}

// ListReservations returns the reservations of a batch.
func (s *Service) ListReservations(ctx context.Context, storeID, batchID string) ([]inventory.Reservation, error) {
	if err := s.requireInventory(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetBatch(ctx, storeID, batchID); err != nil {
		return nil, err
	}
	return s.inventory.ListBatchReservations(ctx, storeID, batchID)
}

func (s *Service) requireInventory() error {
	if s.inventory == nil {
		return errors.New("production: inventory collaborator not configured")
	}
	return nil
}
