package production

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stitchline/stitchline/internal/inventory"
	"github.com/stitchline/stitchline/internal/platform/httpx"
	"github.com/stitchline/stitchline/internal/shared"
)

// Handler wires HTTP endpoints for production batches and the scan interface.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs production handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

type assignRequest struct {
	OperatorID string `json:"operator_id" validate:"required,max=128"`
}

type scanRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// MountRoutes registers store-scoped batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireStore)
		r.Get("/", h.handleList)
		r.Post("/from-order/{orderID}", h.handleFromOrder)
		r.Post("/from-bulk-order/{bulkOrderID}", h.handleFromBulkOrder)
		r.Route("/{batchID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/transition", h.handleTransition)
			r.Post("/assign", h.handleAssign)
			r.Post("/unassign", h.handleUnassign)
			r.Post("/token", h.handleToken)
			r.Get("/ticket", h.handleTicket)
			r.Get("/archive", h.handleArchive)
			r.Get("/reservations", h.handleReservations)
			r.Post("/reserve", h.handleReserve)
			r.Post("/release", h.handleRelease)
			r.Post("/consume", h.handleConsume)
		})
	})
}

// MountScanRoutes registers the token-scoped scan routes. They need no store scope.
func (h *Handler) MountScanRoutes(r chi.Router) {
	r.Get("/{token}", h.handleScanResolve)
	r.Post("/{token}/{action}", h.handleScanAction)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{
		Stage:              Stage(q.Get("stage")),
		Method:             Method(q.Get("method")),
		FulfillmentStoreID: q.Get("fulfillment_store_id"),
		CampaignID:         q.Get("campaign_id"),
		Query:              q.Get("q"),
	}
	var err error
	if filter.Page, err = intParam(q.Get("page")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "page must be an integer")
		return
	}
	if filter.PageSize, err = intParam(q.Get("per_page")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "per_page must be an integer")
		return
	}
	result, err := h.service.ListBatches(r.Context(), scope.StoreID, filter)
	if err != nil {
		h.fail(w, r, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleFromOrder(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	result, err := h.service.CreateFromOrder(r.Context(), scope.StoreID, chi.URLParam(r, "orderID"), scope.ActorID)
	if err != nil {
		h.fail(w, r, "create from order", err)
		return
	}
	httpx.JSON(w, formationStatus(result), result)
}

func (h *Handler) handleFromBulkOrder(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	result, err := h.service.CreateFromBulkOrder(r.Context(), scope.StoreID, chi.URLParam(r, "bulkOrderID"), scope.ActorID)
	if err != nil {
		h.fail(w, r, "create from bulk order", err)
		return
	}
	httpx.JSON(w, formationStatus(result), result)
}

func formationStatus(result FormationResult) int {
	if result.Created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	detail, err := h.service.GetBatch(r.Context(), scope.StoreID, chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(w, r, "get batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	var input TransitionInput
	if err := httpx.DecodeAndValidate(r, h.validate, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = scope.ActorID
	batch, err := h.service.Transition(r.Context(), scope.StoreID, chi.URLParam(r, "batchID"), input)
	if err != nil {
		h.fail(w, r, "transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	var req assignRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	assignment, err := h.service.Assign(r.Context(), scope.StoreID, chi.URLParam(r, "batchID"), req.OperatorID, scope.ActorID)
	if err != nil {
		h.fail(w, r, "assign", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

func (h *Handler) handleUnassign(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	assignment, err := h.service.Unassign(r.Context(), scope.StoreID, chi.URLParam(r, "batchID"), scope.ActorID)
	if err != nil {
		h.fail(w, r, "unassign", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	token, err := h.service.EnsureScanToken(r.Context(), scope.StoreID, chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(w, r, "scan token", err)
		return
	}
	httpx.JSON(w, http.StatusOK, token)
}

func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	batchID := chi.URLParam(r, "batchID")
	if r.URL.Query().Get("format") == "pdf" {
		pdf, err := h.service.RenderTicketPDF(r.Context(), scope.StoreID, batchID, scope.ActorID)
		if err != nil {
			h.fail(w, r, "ticket pdf", err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `inline; filename="ticket-`+batchID+`.pdf"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pdf)
		return
	}
	html, err := h.service.RenderTicket(r.Context(), scope.StoreID, batchID, scope.ActorID)
	if err != nil {
		h.fail(w, r, "ticket", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	batchID := chi.URLParam(r, "batchID")
	buf := &bytes.Buffer{}
	if err := h.service.BuildArchive(r.Context(), scope.StoreID, batchID, scope.ActorID, buf); err != nil {
		h.fail(w, r, "archive", err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="batch-`+batchID+`.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleReservations(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	reservations, err := h.service.ListReservations(r.Context(), scope.StoreID, chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(w, r, "list reservations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": nonNil(reservations)})
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	result, err := h.service.ReserveInventory(r.Context(), scope.StoreID, chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(w, r, "reserve", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	released, err := h.service.ReleaseInventory(r.Context(), scope.StoreID, chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(w, r, "release", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": nonNil(released)})
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	consumed, err := h.service.ConsumeInventory(r.Context(), scope.StoreID, chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(w, r, "consume", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": nonNil(consumed)})
}

func (h *Handler) handleScanResolve(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.ResolveScan(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, "scan resolve", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleScanAction(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	actor := shared.ScopeFromContext(r.Context()).ActorID
	key := r.Header.Get("Idempotency-Key")
	batch, err := h.service.ScanOnce(r.Context(), key, chi.URLParam(r, "token"), ScanAction(chi.URLParam(r, "action")), req.Note, actor)
	if err != nil {
		h.fail(w, r, "scan action", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.IsClientError(err) {
		h.logger.InfoContext(r.Context(), "production request rejected", slog.String("op", op), slog.Any("error", err))
	} else {
		h.logger.ErrorContext(r.Context(), "production request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func nonNil(in []inventory.Reservation) []inventory.Reservation {
	if in == nil {
		return []inventory.Reservation{}
	}
	return in
}
