// Package bom stores locked bill-of-material revisions. Orders reference a
// fixed revision so later BOM edits never retroactively change an order's
// requirements; the planning core only ever reads this data.
package bom

import (
	"time"

	"github.com/shopspring/decimal"
)

// Revision is an immutable snapshot of a product's BOM.
type Revision struct {
	ID        int64
	ProductID int64
	Label     string
	CreatedAt time.Time
}

// Line is one material requirement within a revision.
type Line struct {
	BOMRevisionID      int64
	MaterialID         int64
	QuantityRequired   decimal.Decimal
	ScrapFactorPercent decimal.Decimal
	ResourceType       string
}

var hundred = decimal.NewFromInt(100)

// PerUnit returns the required quantity per assembled unit, scrap included.
func (l Line) PerUnit() decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(l.ScrapFactorPercent.Div(hundred))
	return l.QuantityRequired.Mul(factor)
}

// RequiredQuantity computes the total requirement for an order quantity,
// rounded up at 1e-4 resolution so floating rounding can never under-report
// a requirement.
func RequiredQuantity(orderQuantity decimal.Decimal, line Line) decimal.Decimal {
	return orderQuantity.Mul(line.PerUnit()).RoundCeil(4)
}
