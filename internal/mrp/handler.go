package mrp

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/volta-ems/volta/internal/platform/httpx"
	"github.com/volta-ems/volta/internal/shared"
)

// Handler wires HTTP endpoints for the requirements engine.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the MRP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers MRP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders/{orderID}/requirements", h.handleRequirements)
	r.Get("/orders/{orderID}/availability", h.handleAvailability)
	r.Get("/shortages", h.handleShortages)
}

func orderIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		return 0, shared.NewValidation("order_id", "must be an integer")
	}
	return id, nil
}

func (h *Handler) handleRequirements(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	requirements, err := h.service.RequirementsForOrder(r.Context(), orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, requirements)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	availability, err := h.service.OrderAvailability(r.Context(), orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, availability)
}

func (h *Handler) handleShortages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var statuses []string
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, strings.TrimSpace(s))
		}
	}
	refresh := q.Get("refresh") == "true"
	report, err := h.service.Shortages(r.Context(), statuses, refresh)
	if err != nil {
		h.logger.Warn("shortage report failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
