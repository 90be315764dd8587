package shared

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NotFoundError indicates a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// NewNotFound constructs a NotFoundError.
func NewNotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError indicates a uniqueness violation or a lost concurrent
// update. Callers may retry after re-reading state.
type ConflictError struct {
	Reason     string
	MaterialID int64
	OrderID    int64
}

func (e *ConflictError) Error() string {
	if e.MaterialID != 0 || e.OrderID != 0 {
		return fmt.Sprintf("conflict: %s (material=%d order=%d)", e.Reason, e.MaterialID, e.OrderID)
	}
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// InsufficientStockError indicates a ledger movement would drive on-hand
// negative for the (material, owner) pair.
type InsufficientStockError struct {
	MaterialID int64
	Requested  decimal.Decimal
	OnHand     decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for material %d: requested %s, on hand %s",
		e.MaterialID, e.Requested, e.OnHand)
}

// InsufficientAvailableError indicates an allocation request exceeds
// available quantity (on-hand minus existing reservations) for the owner
// scope.
type InsufficientAvailableError struct {
	MaterialID int64
	OrderID    int64
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientAvailableError) Error() string {
	return fmt.Sprintf("insufficient available quantity for material %d on order %d: requested %s, available %s",
		e.MaterialID, e.OrderID, e.Requested, e.Available)
}

// InvalidTransitionError indicates a state machine transition not permitted
// from the current state.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: transition %s -> %s not allowed", e.Entity, e.From, e.To)
}

// ValidationError indicates malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidation constructs a ValidationError.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
