package cyclecount

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/shared"
)

// CountNumberPrefix is the document prefix for generated count numbers.
const CountNumberPrefix = "CC"

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCount(ctx context.Context, id int64) (Count, error)
	GetItems(ctx context.Context, countID int64) ([]Item, error)
}

// SequencePort hands out gap-tolerant document numbers.
type SequencePort interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// AuditPort abstracts the audit sink.
type AuditPort interface {
	Record(ctx context.Context, event shared.AuditEvent) error
}

// Service drives physical inventory counts from planning through ledger
// adjustment.
type Service struct {
	repo     RepositoryPort
	sequence SequencePort
	audit    AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, sequence SequencePort, audit AuditPort) *Service {
	return &Service{repo: repo, sequence: sequence, audit: audit}
}

// ItemInput names one material to count.
type ItemInput struct {
	MaterialID int64
	LotID      *int64
}

// CreateInput describes a planned count.
type CreateInput struct {
	Owner   ledger.Owner
	Items   []ItemInput
	Notes   string
	ActorID int64
}

// CreateCount plans a count over the given materials.
func (s *Service) CreateCount(ctx context.Context, input CreateInput) (Count, error) {
	if len(input.Items) == 0 {
		return Count{}, shared.NewValidation("items", "at least one material required")
	}
	if err := input.Owner.Validate(); err != nil {
		return Count{}, err
	}
	seen := map[int64]bool{}
	for _, item := range input.Items {
		if item.MaterialID == 0 {
			return Count{}, shared.NewValidation("material_id", "required")
		}
		if item.LotID == nil && seen[item.MaterialID] {
			return Count{}, shared.NewValidation("items", fmt.Sprintf("material %d listed twice", item.MaterialID))
		}
		seen[item.MaterialID] = true
	}

	number, err := s.sequence.Next(ctx, CountNumberPrefix)
	if err != nil {
		return Count{}, err
	}
	var created Count
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err = tx.InsertCount(ctx, Count{
			CountNumber: number,
			Owner:       input.Owner,
			Status:      CountPlanned,
			Notes:       input.Notes,
		})
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			if _, err := tx.InsertItem(ctx, Item{
				CycleCountID: created.ID,
				MaterialID:   item.MaterialID,
				LotID:        item.LotID,
				Status:       ItemPending,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Count{}, err
	}
	s.recordAudit(ctx, "cyclecount.create", created.ID, input.ActorID, map[string]any{
		"count_number": created.CountNumber,
		"items":        len(input.Items),
	})
	return created, nil
}

// StartCount flips a PLANNED count to IN_PROGRESS and snapshots every
// item's system quantity and unit cost in the same transaction, so all
// items are measured against the same moment.
func (s *Service) StartCount(ctx context.Context, countID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCountForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if c.Status != CountPlanned {
			return &shared.InvalidTransitionError{Entity: "cycle_count", From: string(c.Status), To: string(CountInProgress)}
		}
		items, err := tx.ListItems(ctx, countID)
		if err != nil {
			return err
		}
		materialIDs := make([]int64, 0, len(items))
		for _, item := range items {
			materialIDs = append(materialIDs, item.MaterialID)
		}
		costs, err := tx.StandardCosts(ctx, materialIDs)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.LockMaterial(ctx, item.MaterialID); err != nil {
				return err
			}
			system, err := tx.OnHand(ctx, item.MaterialID, c.Owner, item.LotID)
			if err != nil {
				return err
			}
			if err := tx.UpdateItemSnapshot(ctx, item.ID, system, costs[item.MaterialID]); err != nil {
				return err
			}
		}
		return tx.UpdateCountStatus(ctx, countID, CountInProgress)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "cyclecount.start", countID, actorID, nil)
	return nil
}

// RecordCount stores a counted quantity for an item of an IN_PROGRESS
// count. A second count of the same item becomes a recount, keeping the
// previous quantity.
func (s *Service) RecordCount(ctx context.Context, itemID int64, counted decimal.Decimal, actorID int64) (Item, error) {
	if counted.IsNegative() {
		return Item{}, shared.NewValidation("counted_quantity", "must be >= 0")
	}

	var updated Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		c, err := tx.GetCountForUpdate(ctx, item.CycleCountID)
		if err != nil {
			return err
		}
		if c.Status != CountInProgress {
			return &shared.InvalidTransitionError{Entity: "cycle_count", From: string(c.Status), To: string(CountInProgress)}
		}
		if !item.Status.Countable() {
			return &shared.InvalidTransitionError{Entity: "cycle_count_item", From: string(item.Status), To: string(ItemCounted)}
		}

		if item.Status == ItemPending {
			item.Status = ItemCounted
		} else {
			item.Status = ItemRecounted
			item.PreviousCountedQuantity = item.CountedQuantity
			item.RecountNumber++
		}
		variance, percent, value := ComputeVariance(item.SystemQuantity, counted, item.UnitCost)
		item.CountedQuantity = &counted
		item.Variance = &variance
		item.VariancePercent = &percent
		item.VarianceValue = value
		if err := tx.UpdateItemCount(ctx, item); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, "cyclecount.record", itemID, actorID, map[string]any{
		"counted":  counted.String(),
		"variance": updated.Variance.String(),
	})
	return updated, nil
}

// CompleteCount moves an IN_PROGRESS count to PENDING_REVIEW once no item
// remains uncounted.
func (s *Service) CompleteCount(ctx context.Context, countID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCountForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if c.Status != CountInProgress {
			return &shared.InvalidTransitionError{Entity: "cycle_count", From: string(c.Status), To: string(CountPendingReview)}
		}
		items, err := tx.ListItems(ctx, countID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Status == ItemPending {
				return shared.NewValidation("items", fmt.Sprintf("item %d has not been counted", item.ID))
			}
		}
		return tx.UpdateCountStatus(ctx, countID, CountPendingReview)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "cyclecount.complete", countID, actorID, nil)
	return nil
}

// ApproveCount finalises counted items. Items with a non-zero variance get
// one ADJUSTMENT ledger entry each and become ADJUSTED; zero-variance items
// become APPROVED with no ledger write. When every item is terminal the
// header becomes APPROVED. All writes for one call share a transaction.
func (s *Service) ApproveCount(ctx context.Context, countID int64, itemIDs []int64, actorID int64) error {
	selected := map[int64]bool{}
	for _, id := range itemIDs {
		selected[id] = true
	}

	adjusted := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCountForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if c.Status != CountPendingReview {
			return &shared.InvalidTransitionError{Entity: "cycle_count", From: string(c.Status), To: string(CountApproved)}
		}
		items, err := tx.ListItems(ctx, countID)
		if err != nil {
			return err
		}

		allTerminal := true
		for _, item := range items {
			process := item.Status == ItemCounted || item.Status == ItemRecounted
			if len(itemIDs) > 0 {
				process = process && selected[item.ID]
			}
			if !process {
				if !item.Status.Terminal() {
					allTerminal = false
				}
				continue
			}

			if item.Variance == nil || item.Variance.IsZero() {
				if err := tx.UpdateItemApproval(ctx, item.ID, ItemApproved, nil); err != nil {
					return err
				}
				continue
			}

			if err := tx.LockMaterial(ctx, item.MaterialID); err != nil {
				return err
			}
			// Stock may have moved since the snapshot. A negative variance
			// larger than the current balance would drive on-hand below
			// zero, so re-check inside the lock before adjusting.
			onHand, err := tx.OnHand(ctx, item.MaterialID, c.Owner, item.LotID)
			if err != nil {
				return err
			}
			if onHand.Add(*item.Variance).IsNegative() {
				return &shared.InsufficientStockError{
					MaterialID: item.MaterialID,
					Requested:  item.Variance.Neg(),
					OnHand:     onHand,
				}
			}
			entry, err := tx.InsertLedgerEntry(ctx, ledger.Entry{
				MaterialID: item.MaterialID,
				Type:       ledger.EntryTypeAdjustment,
				Quantity:   *item.Variance,
				Reference:  ledger.Reference{Type: ReferenceTypeCycleCount, ID: countID},
				Bucket:     ledger.BucketStock,
				LotID:      item.LotID,
				UnitCost:   item.UnitCost,
				Owner:      c.Owner,
			})
			if err != nil {
				return err
			}
			if err := tx.UpdateItemApproval(ctx, item.ID, ItemAdjusted, &entry.ID); err != nil {
				return err
			}
			adjusted++
		}

		if allTerminal {
			return tx.UpdateCountStatus(ctx, countID, CountApproved)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "cyclecount.approve", countID, actorID, map[string]any{"adjusted": adjusted})
	return nil
}

// SkipItem excludes an item from the count with a reason. Valid while the
// count is IN_PROGRESS or PENDING_REVIEW; skipped items count as processed
// but never produce a ledger entry.
func (s *Service) SkipItem(ctx context.Context, itemID int64, reason string, actorID int64) error {
	if reason == "" {
		return shared.NewValidation("reason", "required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		c, err := tx.GetCountForUpdate(ctx, item.CycleCountID)
		if err != nil {
			return err
		}
		if c.Status != CountInProgress && c.Status != CountPendingReview {
			return &shared.InvalidTransitionError{Entity: "cycle_count", From: string(c.Status), To: string(ItemSkipped)}
		}
		if item.Status.Terminal() {
			return &shared.InvalidTransitionError{Entity: "cycle_count_item", From: string(item.Status), To: string(ItemSkipped)}
		}
		return tx.UpdateItemSkip(ctx, itemID, reason)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "cyclecount.skip", itemID, actorID, map[string]any{"reason": reason})
	return nil
}

// CancelCount abandons a count in any state before approval.
func (s *Service) CancelCount(ctx context.Context, countID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCountForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if c.Status == CountApproved || c.Status == CountCancelled {
			return &shared.InvalidTransitionError{Entity: "cycle_count", From: string(c.Status), To: string(CountCancelled)}
		}
		return tx.UpdateCountStatus(ctx, countID, CountCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "cyclecount.cancel", countID, actorID, nil)
	return nil
}

// GetCount returns one count header.
func (s *Service) GetCount(ctx context.Context, id int64) (Count, error) {
	return s.repo.GetCount(ctx, id)
}

// GetItems returns every item of a count.
func (s *Service) GetItems(ctx context.Context, countID int64) ([]Item, error) {
	return s.repo.GetItems(ctx, countID)
}

func (s *Service) recordAudit(ctx context.Context, eventType string, entityID, actorID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEvent{
		EventType: eventType,
		Entity:    "cycle_count",
		EntityID:  fmt.Sprintf("%d", entityID),
		ActorID:   actorID,
		Meta:      meta,
	})
}
