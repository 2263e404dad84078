package features

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stitchline/stitchline/internal/platform/httpx"
	"github.com/stitchline/stitchline/internal/shared"
)

// Handler exposes flag administration.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

type setRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// MountRoutes registers flag routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireStore)
		r.Get("/", h.handleList)
		r.Get("/{key}", h.handleGet)
		r.Put("/{key}", h.handleSet)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	flags, err := h.service.List(r.Context(), scope.StoreID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if flags == nil {
		flags = []Flag{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": flags})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	key := chi.URLParam(r, "key")
	enabled, err := h.service.Enabled(r.Context(), scope.StoreID, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"key": key, "enabled": enabled})
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	scope := shared.ScopeFromContext(r.Context())
	var req setRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	flag, err := h.service.Set(r.Context(), scope.StoreID, chi.URLParam(r, "key"), *req.Enabled)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, flag)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.IsClientError(err) {
		h.logger.ErrorContext(r.Context(), "feature flag request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
