package mrp

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequirementLine is the exploded demand of one BOM line for an order.
type RequirementLine struct {
	MaterialID int64           `json:"material_id"`
	Required   decimal.Decimal `json:"required"`
}

// OrderRequirements is the full exploded demand of one order.
type OrderRequirements struct {
	OrderID int64             `json:"order_id"`
	Lines   []RequirementLine `json:"lines"`
}

// OrderContribution is one order's share of a material shortage.
type OrderContribution struct {
	OrderID   int64           `json:"order_id"`
	Required  decimal.Decimal `json:"required"`
	Allocated decimal.Decimal `json:"allocated"`
}

// Shortage reports one material whose demand exceeds effective supply.
type Shortage struct {
	MaterialID int64               `json:"material_id"`
	Required   decimal.Decimal     `json:"required"`
	OnHand     decimal.Decimal     `json:"on_hand"`
	OnOrder    decimal.Decimal     `json:"on_order"`
	Shortage   decimal.Decimal     `json:"shortage"`
	Orders     []OrderContribution `json:"orders"`
}

// ShortageReport is the netted shortage list, largest shortage first.
type ShortageReport struct {
	Statuses    []string   `json:"statuses"`
	Shortages   []Shortage `json:"shortages"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// AvailabilityStatus summarises order-level material coverage.
type AvailabilityStatus string

const (
	FullyAvailable     AvailabilityStatus = "FULLY_AVAILABLE"
	PartiallyAvailable AvailabilityStatus = "PARTIALLY_AVAILABLE"
	NotAvailable       AvailabilityStatus = "NOT_AVAILABLE"
)

// AvailabilityLine is per-line coverage. EffectiveAvailable counts free
// stock, quantity already reserved for this order, and open purchase
// supply.
type AvailabilityLine struct {
	MaterialID         int64           `json:"material_id"`
	Required           decimal.Decimal `json:"required"`
	EffectiveAvailable decimal.Decimal `json:"effective_available"`
	CanFulfill         bool            `json:"can_fulfill"`
}

// OrderAvailability is the per-order coverage report.
type OrderAvailability struct {
	OrderID int64              `json:"order_id"`
	Status  AvailabilityStatus `json:"status"`
	Lines   []AvailabilityLine `json:"lines"`
}

// DemandLine is one (order, BOM line) pair from the demand join.
type DemandLine struct {
	OrderID            int64
	MaterialID         int64
	OrderQuantity      decimal.Decimal
	QuantityRequired   decimal.Decimal
	ScrapFactorPercent decimal.Decimal
}

// AllocationRow is one active reservation from the allocation aggregate.
type AllocationRow struct {
	MaterialID int64
	OrderID    int64
	Quantity   decimal.Decimal
}
