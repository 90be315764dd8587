package cyclecount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
)

// CountStatus enumerates the count header lifecycle.
type CountStatus string

const (
	CountPlanned       CountStatus = "PLANNED"
	CountInProgress    CountStatus = "IN_PROGRESS"
	CountPendingReview CountStatus = "PENDING_REVIEW"
	CountApproved      CountStatus = "APPROVED"
	CountCancelled     CountStatus = "CANCELLED"
)

// ItemStatus enumerates per-item states. APPROVED, ADJUSTED and SKIPPED are
// terminal.
type ItemStatus string

const (
	ItemPending   ItemStatus = "PENDING"
	ItemCounted   ItemStatus = "COUNTED"
	ItemRecounted ItemStatus = "RECOUNTED"
	ItemApproved  ItemStatus = "APPROVED"
	ItemAdjusted  ItemStatus = "ADJUSTED"
	ItemSkipped   ItemStatus = "SKIPPED"
)

// Terminal reports whether the item needs no further processing.
func (s ItemStatus) Terminal() bool {
	return s == ItemApproved || s == ItemAdjusted || s == ItemSkipped
}

// Countable reports whether the item accepts a counted quantity.
func (s ItemStatus) Countable() bool {
	return s == ItemPending || s == ItemCounted || s == ItemRecounted
}

// Count is a physical inventory count over a set of materials within one
// ownership pool.
type Count struct {
	ID          int64        `json:"id"`
	CountNumber string       `json:"count_number"`
	Owner       ledger.Owner `json:"owner"`
	Status      CountStatus  `json:"status"`
	Notes       string       `json:"notes,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Item is one material (optionally one lot) within a count. SystemQuantity
// is snapshotted when the count starts; variance fields appear once a
// quantity is recorded.
type Item struct {
	ID                      int64            `json:"id"`
	CycleCountID            int64            `json:"cycle_count_id"`
	MaterialID              int64            `json:"material_id"`
	LotID                   *int64           `json:"lot_id,omitempty"`
	Status                  ItemStatus       `json:"status"`
	SystemQuantity          decimal.Decimal  `json:"system_quantity"`
	CountedQuantity         *decimal.Decimal `json:"counted_quantity,omitempty"`
	Variance                *decimal.Decimal `json:"variance,omitempty"`
	VariancePercent         *decimal.Decimal `json:"variance_percent,omitempty"`
	VarianceValue           *decimal.Decimal `json:"variance_value,omitempty"`
	UnitCost                *decimal.Decimal `json:"unit_cost,omitempty"`
	RecountNumber           int              `json:"recount_number"`
	PreviousCountedQuantity *decimal.Decimal `json:"previous_counted_quantity,omitempty"`
	SkipReason              *string          `json:"skip_reason,omitempty"`
	AdjustmentTransactionID *int64           `json:"adjustment_transaction_id,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// ComputeVariance derives variance, variance percent and, when a unit cost
// is known, variance value. A zero system quantity reports 100 percent for
// any positive count and 0 otherwise.
func ComputeVariance(system, counted decimal.Decimal, unitCost *decimal.Decimal) (variance, percent decimal.Decimal, value *decimal.Decimal) {
	variance = counted.Sub(system)
	if system.IsZero() {
		if counted.IsPositive() {
			percent = hundred
		} else {
			percent = decimal.Zero
		}
	} else {
		percent = variance.Div(system).Mul(hundred)
	}
	if unitCost != nil {
		v := variance.Mul(*unitCost)
		value = &v
	}
	return variance, percent, value
}

// ReferenceTypeCycleCount is the ledger reference type for count
// adjustments.
const ReferenceTypeCycleCount = "CYCLE_COUNT"
