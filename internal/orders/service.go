package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/allocation"
	"github.com/volta-ems/volta/internal/shared"
)

// OrderNumberPrefix is the document prefix for generated order numbers.
const OrderNumberPrefix = "SO"

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context, filter Filter) ([]Order, error)
}

// SequencePort hands out gap-tolerant document numbers.
type SequencePort interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// AuditPort abstracts the audit sink.
type AuditPort interface {
	Record(ctx context.Context, event shared.AuditEvent) error
}

// Service drives the order state machine.
type Service struct {
	repo     RepositoryPort
	sequence SequencePort
	audit    AuditPort
	validate *validator.Validate
}

// NewService builds Service.
func NewService(repo RepositoryPort, sequence SequencePort, audit AuditPort) *Service {
	return &Service{repo: repo, sequence: sequence, audit: audit, validate: validator.New()}
}

// CreateInput describes a new order. The BOM revision is locked in at
// creation time.
type CreateInput struct {
	CustomerID    int64           `validate:"required"`
	ProductID     int64           `validate:"required"`
	BOMRevisionID int64           `validate:"required"`
	Quantity      decimal.Decimal `validate:"-"`
	Type          OrderType       `validate:"required,oneof=TURNKEY CONSIGNMENT"`
	DueDate       *time.Time      `validate:"-"`
	ActorID       int64           `validate:"-"`
}

// Create registers an order in ENTERED with a generated order number.
func (s *Service) Create(ctx context.Context, input CreateInput) (Order, error) {
	if err := s.validate.Struct(input); err != nil {
		return Order{}, shared.NewValidation("order", err.Error())
	}
	if !input.Quantity.IsPositive() {
		return Order{}, shared.NewValidation("quantity", "must be > 0")
	}
	number, err := s.sequence.Next(ctx, OrderNumberPrefix)
	if err != nil {
		return Order{}, err
	}
	var created Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err = tx.Insert(ctx, Order{
			OrderNumber:   number,
			CustomerID:    input.CustomerID,
			ProductID:     input.ProductID,
			BOMRevisionID: input.BOMRevisionID,
			Quantity:      input.Quantity,
			Type:          input.Type,
			Status:        StatusEntered,
			DueDate:       input.DueDate,
		})
		return err
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "order.create", created.ID, input.ActorID, map[string]any{
		"order_number": created.OrderNumber,
		"order_type":   created.Type,
	})
	return created, nil
}

// Transition moves an order to a new status. Entering ON_HOLD snapshots the
// current status; leaving ON_HOLD must return to exactly that snapshot.
// Cancelling releases every active allocation in the same transaction.
func (s *Service) Transition(ctx context.Context, orderID int64, to Status, actorID int64) (Order, error) {
	if !to.Valid() {
		return Order{}, shared.NewValidation("status", "unknown status")
	}

	var updated Order
	var released int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		var previous *Status
		switch {
		case o.Status == StatusOnHold:
			if o.PreviousStatus == nil || to != *o.PreviousStatus {
				return &shared.InvalidTransitionError{Entity: "order", From: string(o.Status), To: string(to)}
			}
		case to == StatusOnHold:
			if !CanTransition(o.Status, to) || !holdResumable(o.Status) {
				return &shared.InvalidTransitionError{Entity: "order", From: string(o.Status), To: string(to)}
			}
			snapshot := o.Status
			previous = &snapshot
		default:
			if !CanTransition(o.Status, to) {
				return &shared.InvalidTransitionError{Entity: "order", From: string(o.Status), To: string(to)}
			}
		}

		if err := tx.UpdateStatus(ctx, o.ID, o.Version, to, previous); err != nil {
			return err
		}
		if to == StatusCancelled {
			released, err = tx.CancelAllocations(ctx, o.ID)
			if err != nil {
				return err
			}
		}
		updated = o
		updated.Status = to
		updated.PreviousStatus = previous
		updated.Version = o.Version + 1
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	meta := map[string]any{"to": to}
	if to == StatusCancelled {
		meta["allocations_released"] = released
	}
	s.recordAudit(ctx, "order.transition", orderID, actorID, meta)
	return updated, nil
}

// ShipQuantity records a partial or full shipment. The order must already be
// in a production or shipped status; the first positive shipment promotes it
// to SHIPPED. The unshipped balance can never go negative.
func (s *Service) ShipQuantity(ctx context.Context, orderID int64, quantity decimal.Decimal, actorID int64) (Order, error) {
	if !quantity.IsPositive() {
		return Order{}, shared.NewValidation("quantity", "must be > 0")
	}

	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !shippable(o.Status) {
			return &shared.InvalidTransitionError{Entity: "order", From: string(o.Status), To: string(StatusShipped)}
		}
		shipped := o.QuantityShipped.Add(quantity)
		if shipped.GreaterThan(o.Quantity) {
			return shared.NewValidation("quantity",
				fmt.Sprintf("shipment exceeds open balance %s", o.Balance()))
		}
		status := o.Status
		if shipped.IsPositive() {
			status = StatusShipped
		}
		if err := tx.UpdateShipped(ctx, o.ID, o.Version, shipped, status); err != nil {
			return err
		}
		updated = o
		updated.QuantityShipped = shipped
		updated.Status = status
		updated.Version = o.Version + 1
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "order.ship", orderID, actorID, map[string]any{"quantity": quantity.String()})
	return updated, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Order, error) {
	return s.repo.List(ctx, filter)
}

// OrderForAllocation resolves the order facts the allocator needs. Closed
// orders cannot be allocated against.
func (s *Service) OrderForAllocation(ctx context.Context, orderID int64) (allocation.OrderInfo, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return allocation.OrderInfo{}, err
	}
	if o.Status == StatusShipped || o.Status == StatusCancelled {
		return allocation.OrderInfo{}, shared.NewValidation("order", "closed orders cannot be allocated")
	}
	return allocation.OrderInfo{
		ID:            o.ID,
		Quantity:      o.Quantity,
		BOMRevisionID: o.BOMRevisionID,
		Owner:         o.Owner(),
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, eventType string, orderID, actorID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEvent{
		EventType: eventType,
		Entity:    "order",
		EntityID:  fmt.Sprintf("%d", orderID),
		ActorID:   actorID,
		Meta:      meta,
	})
}
