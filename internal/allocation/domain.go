package allocation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
)

// Status enumerates the allocation lifecycle. The planning core only
// creates ACTIVE reservations and closes them as CONSUMED or CANCELLED;
// the intermediate kitting states are set by warehouse-floor workflows and
// do not count toward reserved quantity.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusPicked     Status = "PICKED"
	StatusIssued     Status = "ISSUED"
	StatusFloorStock Status = "FLOOR_STOCK"
	StatusConsumed   Status = "CONSUMED"
	StatusReturned   Status = "RETURNED"
	StatusCancelled  Status = "CANCELLED"
)

// Allocation reserves material against an order. At most one ACTIVE
// allocation exists per (material, order) pair; quantity updates bump the
// version for optimistic concurrency.
type Allocation struct {
	ID         int64           `json:"id"`
	MaterialID int64           `json:"material_id"`
	OrderID    int64           `json:"order_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Status     Status          `json:"status"`
	Owner      ledger.Owner    `json:"owner"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// OrderInfo is what the allocator needs to know about an order. The order
// module implements OrderSource and returns this; ownership scope is derived
// from the order type (turnkey orders draw from the company pool, consignment
// orders from the customer's own pool).
type OrderInfo struct {
	ID            int64
	Quantity      decimal.Decimal
	BOMRevisionID int64
	Owner         ledger.Owner
}

// LineResult reports the outcome for one BOM line of AllocateForOrder.
type LineResult struct {
	MaterialID int64           `json:"material_id"`
	Required   decimal.Decimal `json:"required"`
	Allocated  decimal.Decimal `json:"allocated"`
	Short      decimal.Decimal `json:"short"`
}

// OrderReport summarises one AllocateForOrder call.
type OrderReport struct {
	OrderID        int64        `json:"order_id"`
	Lines          []LineResult `json:"lines"`
	FullyAllocated bool         `json:"fully_allocated"`
}

// ReferenceTypeOrder is the ledger reference type for order-driven writes.
const ReferenceTypeOrder = "ORDER"
