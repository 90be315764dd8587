package cyclecount

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/platform/httpx"
	"github.com/volta-ems/volta/internal/shared"
)

// Handler wires HTTP endpoints for cycle counts.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the cycle count handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers cycle count routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/start", h.handleStart)
	r.Post("/{id}/complete", h.handleComplete)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Post("/items/{itemID}/record", h.handleRecord)
	r.Post("/items/{itemID}/skip", h.handleSkip)
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, shared.NewValidation(name, "must be an integer")
	}
	return id, nil
}

type createRequest struct {
	OwnerType  string `json:"owner_type"`
	CustomerID int64  `json:"customer_id"`
	Notes      string `json:"notes"`
	Items      []struct {
		MaterialID int64  `json:"material_id"`
		LotID      *int64 `json:"lot_id"`
	} `json:"items"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	input := CreateInput{
		Owner: ledger.OwnerFromParams(req.OwnerType, req.CustomerID),
		Notes: req.Notes,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{MaterialID: item.MaterialID, LotID: item.LotID})
	}
	c, err := h.service.CreateCount(r.Context(), input)
	if err != nil {
		h.logger.Warn("create cycle count failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.GetCount(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.GetItems(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"count": c, "items": items})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.countAction(w, r, h.service.StartCount)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.countAction(w, r, h.service.CompleteCount)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.countAction(w, r, h.service.CancelCount)
}

func (h *Handler) countAction(w http.ResponseWriter, r *http.Request, action func(context.Context, int64, int64) error) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := action(r.Context(), id, 0); err != nil {
		h.logger.Warn("cycle count action failed", slog.Int64("count_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type approveRequest struct {
	ItemIDs []int64 `json:"item_ids"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req approveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.ApproveCount(r.Context(), id, req.ItemIDs, 0); err != nil {
		h.logger.Warn("approve cycle count failed", slog.Int64("count_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordRequest struct {
	CountedQuantity decimal.Decimal `json:"counted_quantity"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	itemID, err := idParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	item, err := h.service.RecordCount(r.Context(), itemID, req.CountedQuantity, 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

type skipRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	itemID, err := idParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req skipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.SkipItem(r.Context(), itemID, req.Reason, 0); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
