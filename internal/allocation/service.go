package allocation

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/bom"
	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Allocation, error)
	ListActiveByOrder(ctx context.Context, orderID int64) ([]Allocation, error)
}

// OrderSource resolves the order facts needed for bulk allocation.
type OrderSource interface {
	OrderForAllocation(ctx context.Context, orderID int64) (OrderInfo, error)
}

// BOMSource resolves the locked BOM lines of a revision.
type BOMSource interface {
	Lines(ctx context.Context, revisionID int64) ([]bom.Line, error)
}

// AuditPort abstracts the audit sink.
type AuditPort interface {
	Record(ctx context.Context, event shared.AuditEvent) error
}

// Service coordinates reservations. Allocation never changes on-hand
// directly; only Consume writes a ledger entry, atomically with the
// allocation transition.
type Service struct {
	repo   RepositoryPort
	orders OrderSource
	boms   BOMSource
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, orders OrderSource, boms BOMSource, audit AuditPort) *Service {
	return &Service{repo: repo, orders: orders, boms: boms, audit: audit}
}

// CreateInput describes a new reservation.
type CreateInput struct {
	MaterialID int64
	OrderID    int64
	Quantity   decimal.Decimal
	Owner      ledger.Owner
	ActorID    int64
}

// Create reserves quantity for an order. Fails ConflictError when an ACTIVE
// allocation already exists for the (material, order) pair and
// InsufficientAvailableError when the request exceeds available quantity
// for the owner scope.
func (s *Service) Create(ctx context.Context, input CreateInput) (Allocation, error) {
	if input.MaterialID == 0 || input.OrderID == 0 {
		return Allocation{}, shared.NewValidation("allocation", "material and order required")
	}
	if !input.Quantity.IsPositive() {
		return Allocation{}, shared.NewValidation("quantity", "must be > 0")
	}
	if err := input.Owner.Validate(); err != nil {
		return Allocation{}, err
	}

	var created Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockMaterial(ctx, input.MaterialID); err != nil {
			return err
		}
		if _, exists, err := tx.FindActive(ctx, input.MaterialID, input.OrderID); err != nil {
			return err
		} else if exists {
			return &shared.ConflictError{
				Reason:     "active allocation already exists",
				MaterialID: input.MaterialID,
				OrderID:    input.OrderID,
			}
		}
		available, err := availableQuantity(ctx, tx, input.MaterialID, input.Owner)
		if err != nil {
			return err
		}
		if input.Quantity.GreaterThan(available) {
			return &shared.InsufficientAvailableError{
				MaterialID: input.MaterialID,
				OrderID:    input.OrderID,
				Requested:  input.Quantity,
				Available:  available,
			}
		}
		created, err = tx.Insert(ctx, Allocation{
			MaterialID: input.MaterialID,
			OrderID:    input.OrderID,
			Quantity:   input.Quantity,
			Status:     StatusActive,
			Owner:      input.Owner,
		})
		return err
	})
	if err != nil {
		return Allocation{}, err
	}
	s.recordAudit(ctx, "allocation.create", created.ID, input.ActorID, map[string]any{
		"material_id": created.MaterialID,
		"order_id":    created.OrderID,
		"quantity":    created.Quantity.String(),
	})
	return created, nil
}

// UpdateQuantity changes an ACTIVE allocation's reserved quantity via
// compare-and-swap on the version. An increase re-validates against current
// available quantity with the allocation's own prior reservation excluded.
func (s *Service) UpdateQuantity(ctx context.Context, allocationID, expectedVersion int64, quantity decimal.Decimal) (Allocation, error) {
	if !quantity.IsPositive() {
		return Allocation{}, shared.NewValidation("quantity", "must be > 0")
	}

	var updated Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetForUpdate(ctx, allocationID)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return &shared.InvalidTransitionError{Entity: "allocation", From: string(a.Status), To: string(StatusActive)}
		}
		if a.Version != expectedVersion {
			return &shared.ConflictError{Reason: "allocation version mismatch", MaterialID: a.MaterialID, OrderID: a.OrderID}
		}
		if quantity.GreaterThan(a.Quantity) {
			if err := tx.LockMaterial(ctx, a.MaterialID); err != nil {
				return err
			}
			available, err := availableQuantity(ctx, tx, a.MaterialID, a.Owner)
			if err != nil {
				return err
			}
			// The prior reservation is implicitly released and re-reserved.
			headroom := available.Add(a.Quantity)
			if quantity.GreaterThan(headroom) {
				return &shared.InsufficientAvailableError{
					MaterialID: a.MaterialID,
					OrderID:    a.OrderID,
					Requested:  quantity,
					Available:  headroom,
				}
			}
		}
		if err := tx.UpdateQuantity(ctx, a.ID, a.Version, quantity); err != nil {
			return err
		}
		updated = a
		updated.Quantity = quantity
		updated.Version = a.Version + 1
		return nil
	})
	if err != nil {
		return Allocation{}, err
	}
	s.recordAudit(ctx, "allocation.update_quantity", updated.ID, 0, map[string]any{
		"quantity": updated.Quantity.String(),
	})
	return updated, nil
}

// Cancel releases an ACTIVE allocation back to available with no ledger
// write.
func (s *Service) Cancel(ctx context.Context, allocationID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetForUpdate(ctx, allocationID)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return &shared.InvalidTransitionError{Entity: "allocation", From: string(a.Status), To: string(StatusCancelled)}
		}
		return tx.UpdateStatus(ctx, a.ID, a.Version, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "allocation.cancel", allocationID, 0, nil)
	return nil
}

// Consume uses reserved material: the allocation shrinks (or transitions to
// CONSUMED when fully used) and a CONSUMPTION ledger entry for the consumed
// quantity is written in the same transaction. This is the only path by
// which an allocation reduces on-hand stock.
func (s *Service) Consume(ctx context.Context, allocationID int64, quantity *decimal.Decimal, actorID int64) (ledger.Entry, error) {
	var entry ledger.Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetForUpdate(ctx, allocationID)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return &shared.InvalidTransitionError{Entity: "allocation", From: string(a.Status), To: string(StatusConsumed)}
		}
		consume := a.Quantity
		if quantity != nil {
			consume = *quantity
		}
		if !consume.IsPositive() {
			return shared.NewValidation("quantity", "must be > 0")
		}
		if consume.GreaterThan(a.Quantity) {
			return shared.NewValidation("quantity", fmt.Sprintf("exceeds reserved quantity %s", a.Quantity))
		}

		if err := tx.LockMaterial(ctx, a.MaterialID); err != nil {
			return err
		}
		onHand, err := tx.OnHand(ctx, a.MaterialID, a.Owner)
		if err != nil {
			return err
		}
		if onHand.Sub(consume).IsNegative() {
			return &shared.InsufficientStockError{MaterialID: a.MaterialID, Requested: consume.Neg(), OnHand: onHand}
		}

		if consume.Equal(a.Quantity) {
			if err := tx.UpdateStatus(ctx, a.ID, a.Version, StatusConsumed); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateQuantity(ctx, a.ID, a.Version, a.Quantity.Sub(consume)); err != nil {
				return err
			}
		}
		entry, err = tx.InsertLedgerEntry(ctx, ledger.Entry{
			MaterialID: a.MaterialID,
			Type:       ledger.EntryTypeConsumption,
			Quantity:   consume.Neg(),
			Reference:  ledger.Reference{Type: ReferenceTypeOrder, ID: a.OrderID},
			Bucket:     ledger.BucketStock,
			Owner:      a.Owner,
		})
		return err
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	s.recordAudit(ctx, "allocation.consume", allocationID, actorID, map[string]any{
		"ledger_entry_id": entry.ID,
		"quantity":        entry.Quantity.String(),
	})
	return entry, nil
}

// AllocateForOrder computes the requirement for every line of the order's
// locked BOM revision and tops existing ACTIVE allocations up to it. All
// line updates happen in one transaction: with allocateAvailableOnly=false a
// shortage on any line rolls back the whole order's allocation; with
// allocateAvailableOnly=true each short line takes what is available and the
// report carries the remainder.
func (s *Service) AllocateForOrder(ctx context.Context, orderID int64, allocateAvailableOnly bool, actorID int64) (OrderReport, error) {
	order, err := s.orders.OrderForAllocation(ctx, orderID)
	if err != nil {
		return OrderReport{}, err
	}
	lines, err := s.boms.Lines(ctx, order.BOMRevisionID)
	if err != nil {
		return OrderReport{}, err
	}
	if len(lines) == 0 {
		return OrderReport{}, shared.NewValidation("bom", "order has no BOM lines")
	}
	// Deterministic lock order across concurrent callers.
	sort.Slice(lines, func(i, j int) bool { return lines[i].MaterialID < lines[j].MaterialID })

	report := OrderReport{OrderID: orderID, FullyAllocated: true}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		report.Lines = report.Lines[:0]
		report.FullyAllocated = true
		for _, line := range lines {
			required := bom.RequiredQuantity(order.Quantity, line)
			result, err := s.allocateLine(ctx, tx, order, line.MaterialID, required, allocateAvailableOnly)
			if err != nil {
				return err
			}
			if result.Short.IsPositive() {
				report.FullyAllocated = false
			}
			report.Lines = append(report.Lines, result)
		}
		return nil
	})
	if err != nil {
		return OrderReport{}, err
	}
	s.recordAudit(ctx, "allocation.allocate_order", orderID, actorID, map[string]any{
		"lines":           len(report.Lines),
		"fully_allocated": report.FullyAllocated,
		"available_only":  allocateAvailableOnly,
	})
	return report, nil
}

func (s *Service) allocateLine(ctx context.Context, tx TxRepository, order OrderInfo, materialID int64, required decimal.Decimal, availableOnly bool) (LineResult, error) {
	result := LineResult{MaterialID: materialID, Required: required, Short: decimal.Zero}

	if err := tx.LockMaterial(ctx, materialID); err != nil {
		return LineResult{}, err
	}
	existing, exists, err := tx.FindActive(ctx, materialID, order.ID)
	if err != nil {
		return LineResult{}, err
	}
	current := decimal.Zero
	if exists {
		current = existing.Quantity
	}
	delta := required.Sub(current)
	if !delta.IsPositive() {
		// Already covered; existing reservations are never shrunk here.
		result.Allocated = current
		return result, nil
	}

	available, err := availableQuantity(ctx, tx, materialID, order.Owner)
	if err != nil {
		return LineResult{}, err
	}
	take := delta
	if delta.GreaterThan(available) {
		if !availableOnly {
			return LineResult{}, &shared.InsufficientAvailableError{
				MaterialID: materialID,
				OrderID:    order.ID,
				Requested:  delta,
				Available:  available,
			}
		}
		take = available
		if take.IsNegative() {
			take = decimal.Zero
		}
		result.Short = delta.Sub(take)
	}

	if take.IsZero() {
		result.Allocated = current
		return result, nil
	}
	if exists {
		if err := tx.UpdateQuantity(ctx, existing.ID, existing.Version, current.Add(take)); err != nil {
			return LineResult{}, err
		}
	} else {
		if _, err := tx.Insert(ctx, Allocation{
			MaterialID: materialID,
			OrderID:    order.ID,
			Quantity:   take,
			Status:     StatusActive,
			Owner:      order.Owner,
		}); err != nil {
			return LineResult{}, err
		}
	}
	result.Allocated = current.Add(take)
	return result, nil
}

// DeallocateForOrder cancels every ACTIVE allocation for the order and
// returns the count cancelled. Calling it twice is a no-op the second time.
func (s *Service) DeallocateForOrder(ctx context.Context, orderID int64) (int, error) {
	cancelled := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cancelled, err = tx.CancelActiveByOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if cancelled > 0 {
		s.recordAudit(ctx, "allocation.deallocate_order", orderID, 0, map[string]any{"cancelled": cancelled})
	}
	return cancelled, nil
}

// Get returns one allocation.
func (s *Service) Get(ctx context.Context, id int64) (Allocation, error) {
	return s.repo.Get(ctx, id)
}

// ListActiveByOrder returns the order's open reservations.
func (s *Service) ListActiveByOrder(ctx context.Context, orderID int64) ([]Allocation, error) {
	return s.repo.ListActiveByOrder(ctx, orderID)
}

func availableQuantity(ctx context.Context, tx TxRepository, materialID int64, owner ledger.Owner) (decimal.Decimal, error) {
	onHand, err := tx.OnHand(ctx, materialID, owner)
	if err != nil {
		return decimal.Zero, err
	}
	reserved, err := tx.ActiveQuantitySum(ctx, materialID, owner)
	if err != nil {
		return decimal.Zero, err
	}
	return onHand.Sub(reserved), nil
}

func (s *Service) recordAudit(ctx context.Context, eventType string, entityID, actorID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEvent{
		EventType: eventType,
		Entity:    "allocation",
		EntityID:  fmt.Sprintf("%d", entityID),
		ActorID:   actorID,
		Meta:      meta,
	})
}
