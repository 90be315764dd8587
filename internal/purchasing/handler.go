package purchasing

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/platform/httpx"
	"github.com/volta-ems/volta/internal/shared"
)

// Handler wires HTTP endpoints for purchasing.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the purchasing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/receipts", h.handlePostReceipt)
	r.Post("/{id}/cancel", h.handleCancel)
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, shared.NewValidation("id", "must be an integer")
	}
	return id, nil
}

type createRequest struct {
	SupplierID   int64      `json:"supplier_id"`
	OwnerType    string     `json:"owner_type"`
	CustomerID   int64      `json:"customer_id"`
	ExpectedDate *time.Time `json:"expected_date"`
	Lines        []struct {
		MaterialID      int64            `json:"material_id"`
		QuantityOrdered decimal.Decimal  `json:"quantity_ordered"`
		UnitCost        *decimal.Decimal `json:"unit_cost"`
	} `json:"lines"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	input := CreateInput{
		SupplierID:   req.SupplierID,
		Owner:        ledger.OwnerFromParams(req.OwnerType, req.CustomerID),
		ExpectedDate: req.ExpectedDate,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{
			MaterialID:      line.MaterialID,
			QuantityOrdered: line.QuantityOrdered,
			UnitCost:        line.UnitCost,
		})
	}
	po, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Warn("create purchase order failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

type receiptRequest struct {
	Lines []struct {
		LineID   int64           `json:"line_id"`
		Quantity decimal.Decimal `json:"quantity"`
	} `json:"lines"`
}

func (h *Handler) handlePostReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	input := ReceiptInput{
		PurchaseOrderID: id,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiptLine{LineID: line.LineID, Quantity: line.Quantity})
	}
	po, err := h.service.PostReceipt(r.Context(), input)
	if err != nil {
		h.logger.Warn("post receipt failed", slog.Int64("purchase_order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Cancel(r.Context(), id, 0); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
