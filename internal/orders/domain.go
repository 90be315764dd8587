package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
)

// Status enumerates the production order lifecycle.
type Status string

const (
	StatusEntered   Status = "ENTERED"
	StatusKitting   Status = "KITTING"
	StatusSMT       Status = "SMT"
	StatusTH        Status = "TH"
	StatusShipped   Status = "SHIPPED"
	StatusOnHold    Status = "ON_HOLD"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusEntered, StatusKitting, StatusSMT, StatusTH, StatusShipped, StatusOnHold, StatusCancelled:
		return true
	}
	return false
}

// transitions is the allowed from -> to table. ON_HOLD is handled separately
// because leaving it must match the saved previous status.
var transitions = map[Status][]Status{
	StatusEntered: {StatusKitting, StatusOnHold, StatusCancelled},
	StatusKitting: {StatusSMT, StatusTH, StatusOnHold, StatusCancelled},
	StatusSMT:     {StatusTH, StatusShipped, StatusOnHold},
	StatusTH:      {StatusShipped, StatusOnHold},
}

// CanTransition reports whether from -> to is in the table. Resuming from
// ON_HOLD is checked against the order's previous status by the service.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// holdable statuses snapshot themselves when entering ON_HOLD.
func holdResumable(to Status) bool {
	switch to {
	case StatusEntered, StatusKitting, StatusSMT, StatusTH:
		return true
	}
	return false
}

// shippable statuses permit ShipQuantity.
func shippable(s Status) bool {
	switch s {
	case StatusSMT, StatusTH, StatusShipped:
		return true
	}
	return false
}

// OrderType determines the ownership pool orders draw material from.
type OrderType string

const (
	// TypeTurnkey orders consume company-owned stock.
	TypeTurnkey OrderType = "TURNKEY"
	// TypeConsignment orders consume the customer's own consigned stock.
	TypeConsignment OrderType = "CONSIGNMENT"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == TypeTurnkey || t == TypeConsignment
}

// Order is a production order against a locked BOM revision. The revision is
// fixed at creation so later BOM edits never change the order's
// requirements.
type Order struct {
	ID              int64           `json:"id"`
	OrderNumber     string          `json:"order_number"`
	CustomerID      int64           `json:"customer_id"`
	ProductID       int64           `json:"product_id"`
	BOMRevisionID   int64           `json:"bom_revision_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	QuantityShipped decimal.Decimal `json:"quantity_shipped"`
	Type            OrderType       `json:"order_type"`
	Status          Status          `json:"status"`
	PreviousStatus  *Status         `json:"previous_status,omitempty"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Balance is the unshipped remainder, never negative.
func (o Order) Balance() decimal.Decimal {
	return o.Quantity.Sub(o.QuantityShipped)
}

// Owner derives the stock pool the order draws from.
func (o Order) Owner() ledger.Owner {
	if o.Type == TypeConsignment {
		return ledger.CustomerOwner(o.CustomerID)
	}
	return ledger.CompanyOwner()
}

// Filter narrows order listings.
type Filter struct {
	Statuses   []Status
	CustomerID int64
	Limit      int
}
