package allocation

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/platform/httpx"
	"github.com/volta-ems/volta/internal/shared"
)

// Handler wires HTTP endpoints for allocations.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the allocation handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers allocation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}/quantity", h.handleUpdateQuantity)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Post("/{id}/consume", h.handleConsume)
	r.Get("/orders/{orderID}", h.handleListByOrder)
	r.Post("/orders/{orderID}/allocate", h.handleAllocateOrder)
	r.Post("/orders/{orderID}/deallocate", h.handleDeallocateOrder)
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, shared.NewValidation(name, "must be an integer")
	}
	return id, nil
}

type createRequest struct {
	MaterialID int64           `json:"material_id"`
	OrderID    int64           `json:"order_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	OwnerType  string          `json:"owner_type"`
	CustomerID int64           `json:"customer_id"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	a, err := h.service.Create(r.Context(), CreateInput{
		MaterialID: req.MaterialID,
		OrderID:    req.OrderID,
		Quantity:   req.Quantity,
		Owner:      ledger.OwnerFromParams(req.OwnerType, req.CustomerID),
	})
	if err != nil {
		h.logger.Warn("create allocation failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

type updateQuantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Version  int64           `json:"version"`
}

func (h *Handler) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateQuantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	a, err := h.service.UpdateQuantity(r.Context(), id, req.Version, req.Quantity)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Cancel(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type consumeRequest struct {
	Quantity *decimal.Decimal `json:"quantity"`
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	entry, err := h.service.Consume(r.Context(), id, req.Quantity, 0)
	if err != nil {
		h.logger.Warn("consume allocation failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleListByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := idParam(r, "orderID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListActiveByOrder(r.Context(), orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleAllocateOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := idParam(r, "orderID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	availableOnly := r.URL.Query().Get("allocate_available_only") == "true"
	report, err := h.service.AllocateForOrder(r.Context(), orderID, availableOnly, 0)
	if err != nil {
		h.logger.Warn("allocate order failed", slog.Int64("order_id", orderID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleDeallocateOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := idParam(r, "orderID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cancelled, err := h.service.DeallocateForOrder(r.Context(), orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order_id": orderID, "cancelled": cancelled})
}
