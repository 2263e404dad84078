package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stitchline/stitchline/internal/features"
	"github.com/stitchline/stitchline/internal/inventory"
	"github.com/stitchline/stitchline/internal/observability"
	"github.com/stitchline/stitchline/internal/platform/httpx"
	"github.com/stitchline/stitchline/internal/production"
	"github.com/stitchline/stitchline/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	InventoryHandler  *inventory.Handler
	ProductionHandler *production.Handler
	FeaturesHandler   *features.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with the default middleware stack.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.ProductionHandler != nil {
			r.Route("/production/batches", params.ProductionHandler.MountRoutes)
		}
		if params.FeaturesHandler != nil {
			r.Route("/features", params.FeaturesHandler.MountRoutes)
		}
	})
	if params.ProductionHandler != nil {
		r.Route("/scan", func(r chi.Router) {
			r.Use(ScanRateLimit(params.Config))
			params.ProductionHandler.MountScanRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
