package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/volta-ems/volta/internal/allocation"
	"github.com/volta-ems/volta/internal/cyclecount"
	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/masterdata/materials"
	"github.com/volta-ems/volta/internal/mrp"
	"github.com/volta-ems/volta/internal/observability"
	"github.com/volta-ems/volta/internal/orders"
	"github.com/volta-ems/volta/internal/purchasing"
	"github.com/volta-ems/volta/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	LedgerHandler     *ledger.Handler
	AllocationHandler *allocation.Handler
	OrdersHandler     *orders.Handler
	MRPHandler        *mrp.Handler
	CycleCountHandler *cyclecount.Handler
	PurchasingHandler *purchasing.Handler
	MaterialsHandler  *materials.Handler

	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
}

// NewRouter constructs the chi.Router with Volta defaults.
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
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
		r.Route("/allocations", params.AllocationHandler.MountRoutes)
		r.Route("/orders", params.OrdersHandler.MountRoutes)
		r.Route("/mrp", params.MRPHandler.MountRoutes)
		r.Route("/cycle-counts", params.CycleCountHandler.MountRoutes)
		r.Route("/purchase-orders", params.PurchasingHandler.MountRoutes)
		r.Route("/materials", params.MaterialsHandler.MountRoutes)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
