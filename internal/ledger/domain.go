package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/shared"
)

// EntryType enumerates supported inventory movements.
type EntryType string

const (
	EntryTypeAdjustment   EntryType = "ADJUSTMENT"
	EntryTypeReceipt      EntryType = "RECEIPT"
	EntryTypeConsumption  EntryType = "CONSUMPTION"
	EntryTypeReturn       EntryType = "RETURN"
	EntryTypeScrap        EntryType = "SCRAP"
	EntryTypeMove         EntryType = "MOVE"
	EntryTypeIssueToWO    EntryType = "ISSUE_TO_WO"
	EntryTypeReturnFromWO EntryType = "RETURN_FROM_WO"
	EntryTypeShipment     EntryType = "SHIPMENT"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeAdjustment, EntryTypeReceipt, EntryTypeConsumption, EntryTypeReturn,
		EntryTypeScrap, EntryTypeMove, EntryTypeIssueToWO, EntryTypeReturnFromWO, EntryTypeShipment:
		return true
	}
	return false
}

// OwnerType distinguishes company-owned from consigned material.
type OwnerType string

const (
	OwnerCompany  OwnerType = "COMPANY"
	OwnerCustomer OwnerType = "CUSTOMER"
)

// Owner is a tagged variant: company stock carries no customer id, consigned
// stock always does. Modelled this way so "company" can never accidentally
// carry a stray customer id.
type Owner struct {
	Type       OwnerType `json:"type"`
	CustomerID int64     `json:"customer_id,omitempty"`
}

// CompanyOwner returns the company-owned pool.
func CompanyOwner() Owner {
	return Owner{Type: OwnerCompany}
}

// CustomerOwner returns the consignment pool of one customer.
func CustomerOwner(customerID int64) Owner {
	return Owner{Type: OwnerCustomer, CustomerID: customerID}
}

// Validate checks the variant invariant.
func (o Owner) Validate() error {
	switch o.Type {
	case OwnerCompany:
		if o.CustomerID != 0 {
			return shared.NewValidation("owner", "company owner must not carry a customer id")
		}
	case OwnerCustomer:
		if o.CustomerID == 0 {
			return shared.NewValidation("owner", "customer owner requires a customer id")
		}
	default:
		return shared.NewValidation("owner", "unknown owner type")
	}
	return nil
}

// Reference links an entry back to the document that caused it.
type Reference struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// BucketStock is the default stock bucket for entries.
const BucketStock = "STOCK"

// Entry is an immutable fact in the append-only ledger. Corrections are new
// entries; rows are never updated or deleted.
type Entry struct {
	ID         int64
	MaterialID int64
	Type       EntryType
	Quantity   decimal.Decimal
	Reference  Reference
	Bucket     string
	LotID      *int64
	LocationID *int64
	UnitCost   *decimal.Decimal
	Owner      Owner
	CreatedAt  time.Time
}

// NormalizeQuantity applies the sign convention for a movement type:
// receipts and returns are positive, consumption and scrap negative,
// adjustments and moves pass through as given.
func NormalizeQuantity(t EntryType, quantity decimal.Decimal) decimal.Decimal {
	switch t {
	case EntryTypeReceipt, EntryTypeReturn, EntryTypeReturnFromWO:
		return quantity.Abs()
	case EntryTypeConsumption, EntryTypeScrap, EntryTypeIssueToWO, EntryTypeShipment:
		return quantity.Abs().Neg()
	default:
		return quantity
	}
}

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	MaterialID int64
	Owner      *Owner
	Types      []EntryType
	From       time.Time
	To         time.Time
	Limit      int
}
