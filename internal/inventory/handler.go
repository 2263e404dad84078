package inventory

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stitchline/stitchline/internal/platform/httpx"
	"github.com/stitchline/stitchline/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireStore)
		r.Get("/locations", h.handleListLocations)
		r.Post("/locations", h.handleCreateLocation)
		r.Get("/skus", h.handleListSkus)
		r.Post("/skus", h.handleCreateSku)
		r.Get("/materials", h.handleListMaterials)
		r.Post("/materials", h.handleUpsertMaterial)
		r.Delete("/materials/{mapID}", h.handleDeleteMaterial)
		r.Get("/stock", h.handleListStock)
		r.Get("/stock/low", h.handleLowStock)
		r.Get("/ledger", h.handleListLedger)
		r.Post("/receipts", h.handleMovement(h.service.ReceiveStock))
		r.Post("/adjustments", h.handleMovement(h.service.AdjustStock))
		r.Post("/issues", h.handleMovement(h.service.IssueStock))
		r.Post("/reconcile", h.handleReconcile)
	})
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	locs, err := h.service.ListLocations(r.Context(), scope.StoreID)
	if err != nil {
		h.fail(w, r, "list locations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": locs})
}

func (h *Handler) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	var input CreateLocationInput
	if err := httpx.DecodeAndValidate(r, h.validate, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	loc, err := h.service.CreateLocation(r.Context(), scope.StoreID, input)
	if err != nil {
		h.fail(w, r, "create location", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loc)
}

func (h *Handler) handleListSkus(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	skus, err := h.service.ListSkus(r.Context(), scope.StoreID)
	if err != nil {
		h.fail(w, r, "list skus", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": skus})
}

func (h *Handler) handleCreateSku(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	var input CreateSkuInput
	if err := httpx.DecodeAndValidate(r, h.validate, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sku, err := h.service.CreateSku(r.Context(), scope.StoreID, input)
	if err != nil {
		h.fail(w, r, "create sku", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sku)
}

func (h *Handler) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	maps, err := h.service.ListMaterialMaps(r.Context(), scope.StoreID, r.URL.Query().Get("product_id"))
	if err != nil {
		h.fail(w, r, "list material maps", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": maps})
}

func (h *Handler) handleUpsertMaterial(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	var input MaterialMapInput
	if err := httpx.DecodeAndValidate(r, h.validate, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.UpsertMaterialMap(r.Context(), scope.StoreID, input)
	if err != nil {
		h.fail(w, r, "upsert material map", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleDeleteMaterial(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	if err := h.service.DeleteMaterialMap(r.Context(), scope.StoreID, chi.URLParam(r, "mapID")); err != nil {
		h.fail(w, r, "delete material map", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListStock(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	q := r.URL.Query()
	rows, err := h.service.ListStock(r.Context(), scope.StoreID, StockFilter{
		SkuID:      q.Get("sku_id"),
		LocationID: q.Get("location_id"),
	})
	if err != nil {
		h.fail(w, r, "list stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	rows, err := h.service.ListLowStock(r.Context(), scope.StoreID)
	if err != nil {
		h.fail(w, r, "list low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) handleListLedger(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	q := r.URL.Query()
	filter := LedgerFilter{
		SkuID:      q.Get("sku_id"),
		LocationID: q.Get("location_id"),
		RefType:    RefType(q.Get("ref_type")),
		RefID:      q.Get("ref_id"),
	}
	if filter.RefType != "" && !filter.RefType.IsValid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown ref_type")
		return
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	entries, err := h.service.ListLedger(r.Context(), scope.StoreID, filter)
	if err != nil {
		h.fail(w, r, "list ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *Handler) handleMovement(post func(context.Context, string, MovementInput) (Stock, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := shared.ScopeFromContext(r.Context())
		var input MovementInput
		if err := httpx.DecodeAndValidate(r, h.validate, &input); err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.ActorID = scope.ActorID
		stock, err := post(r.Context(), scope.StoreID, input)
		if err != nil {
			h.fail(w, r, "stock movement", err)
			return
		}
		httpx.JSON(w, http.StatusCreated, stock)
	}
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	report, err := h.service.Reconcile(r.Context(), scope.StoreID)
	if err != nil {
		h.fail(w, r, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.IsClientError(err) {
		h.logger.InfoContext(r.Context(), "inventory request rejected", slog.String("op", op), slog.Any("error", err))
	} else {
		h.logger.ErrorContext(r.Context(), "inventory request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
