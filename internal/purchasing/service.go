package purchasing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/shared"
)

// PONumberPrefix is the document prefix for generated purchase order
// numbers.
const PONumberPrefix = "PO"

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	OnOrderBatch(ctx context.Context, materialIDs []int64) (map[int64]decimal.Decimal, error)
}

// SequencePort hands out gap-tolerant document numbers.
type SequencePort interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// IdempotencyPort guards receipt posting against duplicate submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key string) error
}

// AuditPort abstracts the audit sink.
type AuditPort interface {
	Record(ctx context.Context, event shared.AuditEvent) error
}

// Service manages the purchase supply side: open orders feed the
// requirements engine, receipts feed the ledger.
type Service struct {
	repo        RepositoryPort
	sequence    SequencePort
	idempotency IdempotencyPort
	audit       AuditPort
}

// NewService builds Service. idempotency may be nil; receipt posting then
// skips the duplicate guard.
func NewService(repo RepositoryPort, sequence SequencePort, idempotency IdempotencyPort, audit AuditPort) *Service {
	return &Service{repo: repo, sequence: sequence, idempotency: idempotency, audit: audit}
}

// LineInput describes one position of a new purchase order.
type LineInput struct {
	MaterialID      int64
	QuantityOrdered decimal.Decimal
	UnitCost        *decimal.Decimal
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	SupplierID   int64
	Owner        ledger.Owner
	ExpectedDate *time.Time
	Lines        []LineInput
	ActorID      int64
}

// Create registers an OPEN purchase order with a generated number.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if input.SupplierID == 0 {
		return PurchaseOrder{}, shared.NewValidation("supplier_id", "required")
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, shared.NewValidation("lines", "at least one line required")
	}
	if err := input.Owner.Validate(); err != nil {
		return PurchaseOrder{}, err
	}
	for _, line := range input.Lines {
		if line.MaterialID == 0 {
			return PurchaseOrder{}, shared.NewValidation("material_id", "required")
		}
		if !line.QuantityOrdered.IsPositive() {
			return PurchaseOrder{}, shared.NewValidation("quantity_ordered", "must be > 0")
		}
		if line.UnitCost != nil && line.UnitCost.IsNegative() {
			return PurchaseOrder{}, shared.NewValidation("unit_cost", "must be >= 0")
		}
	}

	number, err := s.sequence.Next(ctx, PONumberPrefix)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po := PurchaseOrder{
		PONumber:     number,
		SupplierID:   input.SupplierID,
		Status:       StatusOpen,
		Owner:        input.Owner,
		ExpectedDate: input.ExpectedDate,
	}
	for _, line := range input.Lines {
		po.Lines = append(po.Lines, Line{
			MaterialID:      line.MaterialID,
			QuantityOrdered: line.QuantityOrdered,
			UnitCost:        line.UnitCost,
		})
	}

	var created PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err = tx.Insert(ctx, po)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "purchase_order.create", created.ID, input.ActorID, map[string]any{
		"po_number": created.PONumber,
		"lines":     len(created.Lines),
	})
	return created, nil
}

// ReceiptLine is one received position.
type ReceiptLine struct {
	LineID   int64
	Quantity decimal.Decimal
}

// ReceiptInput describes goods arriving against a purchase order.
type ReceiptInput struct {
	PurchaseOrderID int64
	IdempotencyKey  string
	Lines           []ReceiptLine
	ActorID         int64
}

// PostReceipt bumps received quantities and writes one RECEIPT ledger entry
// per line in a single transaction. The idempotency key rejects duplicate
// submissions of the same physical receipt; over-receiving any line fails
// the whole posting.
func (s *Service) PostReceipt(ctx context.Context, input ReceiptInput) (PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, shared.NewValidation("lines", "at least one line required")
	}
	for _, line := range input.Lines {
		if !line.Quantity.IsPositive() {
			return PurchaseOrder{}, shared.NewValidation("quantity", "must be > 0")
		}
	}
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "purchasing"); err != nil {
			return PurchaseOrder{}, err
		}
	}

	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetForUpdate(ctx, input.PurchaseOrderID)
		if err != nil {
			return err
		}
		if !po.Status.Open() {
			return &shared.InvalidTransitionError{Entity: "purchase_order", From: string(po.Status), To: string(StatusReceived)}
		}
		byID := map[int64]*Line{}
		for i := range po.Lines {
			byID[po.Lines[i].ID] = &po.Lines[i]
		}

		for _, receipt := range input.Lines {
			line, ok := byID[receipt.LineID]
			if !ok || line.PurchaseOrderID != po.ID {
				return shared.NewNotFound("purchase_order_line", receipt.LineID)
			}
			if receipt.Quantity.GreaterThan(line.Outstanding()) {
				return shared.NewValidation("quantity",
					fmt.Sprintf("receipt exceeds outstanding %s on line %d", line.Outstanding(), line.ID))
			}
			line.QuantityReceived = line.QuantityReceived.Add(receipt.Quantity)
			if err := tx.UpdateLineReceived(ctx, line.ID, line.QuantityReceived); err != nil {
				return err
			}
			if err := tx.LockMaterial(ctx, line.MaterialID); err != nil {
				return err
			}
			if _, err := tx.InsertLedgerEntry(ctx, ledger.Entry{
				MaterialID: line.MaterialID,
				Type:       ledger.EntryTypeReceipt,
				Quantity:   receipt.Quantity,
				Reference:  ledger.Reference{Type: ReferenceTypePurchaseOrder, ID: po.ID},
				Bucket:     ledger.BucketStock,
				UnitCost:   line.UnitCost,
				Owner:      po.Owner,
			}); err != nil {
				return err
			}
		}

		status := StatusReceived
		for _, line := range po.Lines {
			if !line.FullyReceived() {
				status = StatusPartial
				break
			}
		}
		if err := tx.UpdateStatus(ctx, po.ID, status); err != nil {
			return err
		}
		po.Status = status
		updated = po
		return nil
	})
	if err != nil {
		if s.idempotency != nil && input.IdempotencyKey != "" {
			_ = s.idempotency.Release(ctx, input.IdempotencyKey)
		}
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "purchase_order.receipt", updated.ID, input.ActorID, map[string]any{
		"lines":  len(input.Lines),
		"status": updated.Status,
	})
	return updated, nil
}

// Cancel closes an order that still has outstanding quantity. Received
// lines keep their history; the order stops counting as supply.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !po.Status.Open() {
			return &shared.InvalidTransitionError{Entity: "purchase_order", From: string(po.Status), To: string(StatusCancelled)}
		}
		return tx.UpdateStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "purchase_order.cancel", id, actorID, nil)
	return nil
}

// Get returns one purchase order with lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.Get(ctx, id)
}

// OnOrderBatch resolves outstanding supply per material.
func (s *Service) OnOrderBatch(ctx context.Context, materialIDs []int64) (map[int64]decimal.Decimal, error) {
	return s.repo.OnOrderBatch(ctx, materialIDs)
}

func (s *Service) recordAudit(ctx context.Context, eventType string, poID, actorID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEvent{
		EventType: eventType,
		Entity:    "purchase_order",
		EntityID:  fmt.Sprintf("%d", poID),
		ActorID:   actorID,
		Meta:      meta,
	})
}
