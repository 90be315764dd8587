package purchasing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
)

// Status enumerates the purchase order lifecycle.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusPartial   Status = "PARTIAL"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

// Open reports whether the order still supplies on-order quantity.
func (s Status) Open() bool {
	return s == StatusOpen || s == StatusPartial
}

// PurchaseOrder is the supply-side document the requirements engine counts
// as incoming quantity.
type PurchaseOrder struct {
	ID           int64        `json:"id"`
	PONumber     string       `json:"po_number"`
	SupplierID   int64        `json:"supplier_id"`
	Status       Status       `json:"status"`
	Owner        ledger.Owner `json:"owner"`
	ExpectedDate *time.Time   `json:"expected_date,omitempty"`
	Lines        []Line       `json:"lines"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Line is one material position on a purchase order. On-order quantity is
// ordered minus received, never negative.
type Line struct {
	ID               int64            `json:"id"`
	PurchaseOrderID  int64            `json:"purchase_order_id"`
	MaterialID       int64            `json:"material_id"`
	QuantityOrdered  decimal.Decimal  `json:"quantity_ordered"`
	QuantityReceived decimal.Decimal  `json:"quantity_received"`
	UnitCost         *decimal.Decimal `json:"unit_cost,omitempty"`
}

// Outstanding is the open quantity of the line.
func (l Line) Outstanding() decimal.Decimal {
	return l.QuantityOrdered.Sub(l.QuantityReceived)
}

// FullyReceived reports whether nothing is outstanding.
func (l Line) FullyReceived() bool {
	return !l.Outstanding().IsPositive()
}

// ReferenceTypePurchaseOrder is the ledger reference type for receipt
// entries.
const ReferenceTypePurchaseOrder = "PURCHASE_ORDER"
