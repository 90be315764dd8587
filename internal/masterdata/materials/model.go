package materials

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostingMethod enumerates supported costing methods.
type CostingMethod string

const (
	CostingStandard CostingMethod = "STANDARD"
	CostingAverage  CostingMethod = "AVERAGE"
	CostingFIFO     CostingMethod = "FIFO"
)

// Material is a trackable part identity referenced by every core component.
type Material struct {
	ID            int64            `json:"id"`
	PartNumber    string           `json:"part_number"`
	Description   string           `json:"description"`
	UnitOfMeasure string           `json:"unit_of_measure"`
	CostingMethod CostingMethod    `json:"costing_method"`
	StandardCost  *decimal.Decimal `json:"standard_cost,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	DeletedAt     *time.Time       `json:"deleted_at,omitempty"`
}
