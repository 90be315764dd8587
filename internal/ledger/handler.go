package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/platform/httpx"
	"github.com/volta-ems/volta/internal/shared"
)

// Handler wires HTTP endpoints for the ledger module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleRecordMovement)
	r.Get("/materials/{materialID}/on-hand", h.handleOnHand)
	r.Get("/materials/{materialID}/entries", h.handleListEntries)
}

type movementRequest struct {
	MaterialID    int64            `json:"material_id"`
	Type          string           `json:"type"`
	Quantity      decimal.Decimal  `json:"quantity"`
	ReferenceType string           `json:"reference_type"`
	ReferenceID   int64            `json:"reference_id"`
	Bucket        string           `json:"bucket"`
	LotID         *int64           `json:"lot_id"`
	LocationID    *int64           `json:"location_id"`
	UnitCost      *decimal.Decimal `json:"unit_cost"`
	OwnerType     string           `json:"owner_type"`
	CustomerID    int64            `json:"customer_id"`
}

type entryResponse struct {
	ID         int64            `json:"id"`
	MaterialID int64            `json:"material_id"`
	Type       EntryType        `json:"type"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Reference  Reference        `json:"reference"`
	Bucket     string           `json:"bucket"`
	LotID      *int64           `json:"lot_id,omitempty"`
	LocationID *int64           `json:"location_id,omitempty"`
	UnitCost   *decimal.Decimal `json:"unit_cost,omitempty"`
	Owner      Owner            `json:"owner"`
	CreatedAt  string           `json:"created_at"`
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		ID:         e.ID,
		MaterialID: e.MaterialID,
		Type:       e.Type,
		Quantity:   e.Quantity,
		Reference:  e.Reference,
		Bucket:     e.Bucket,
		LotID:      e.LotID,
		LocationID: e.LocationID,
		UnitCost:   e.UnitCost,
		Owner:      e.Owner,
		CreatedAt:  e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// OwnerFromParams builds an Owner from owner_type/customer_id request
// fields, defaulting to the company pool.
func OwnerFromParams(ownerType string, customerID int64) Owner {
	if OwnerType(ownerType) == OwnerCustomer {
		return CustomerOwner(customerID)
	}
	return CompanyOwner()
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	entry, err := h.service.RecordMovement(r.Context(), MovementInput{
		MaterialID: req.MaterialID,
		Type:       EntryType(req.Type),
		Quantity:   req.Quantity,
		Reference:  Reference{Type: req.ReferenceType, ID: req.ReferenceID},
		Bucket:     req.Bucket,
		LotID:      req.LotID,
		LocationID: req.LocationID,
		UnitCost:   req.UnitCost,
		Owner:      OwnerFromParams(req.OwnerType, req.CustomerID),
	})
	if err != nil {
		h.logger.Warn("record movement failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) handleOnHand(w http.ResponseWriter, r *http.Request) {
	materialID, err := strconv.ParseInt(chi.URLParam(r, "materialID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.NewValidation("material_id", "must be an integer"))
		return
	}
	q := r.URL.Query()
	customerID, _ := strconv.ParseInt(q.Get("customer_id"), 10, 64)
	owner := OwnerFromParams(q.Get("owner_type"), customerID)
	onHand, err := h.service.OnHand(r.Context(), materialID, owner)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"material_id": materialID,
		"owner":       owner,
		"on_hand":     onHand,
	})
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	materialID, err := strconv.ParseInt(chi.URLParam(r, "materialID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.NewValidation("material_id", "must be an integer"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.ListEntries(r.Context(), EntryFilter{MaterialID: materialID, Limit: limit})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}
