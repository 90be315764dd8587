package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	OnHand(ctx context.Context, materialID int64, owner Owner) (decimal.Decimal, error)
	OnHandBatch(ctx context.Context, materialIDs []int64, owner Owner) (map[int64]decimal.Decimal, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}

// AuditPort abstracts the audit sink.
type AuditPort interface {
	Record(ctx context.Context, event shared.AuditEvent) error
}

// Service coordinates ledger operations.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics *Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// WithMetrics attaches movement counters. Nil metrics are a no-op.
func (s *Service) WithMetrics(metrics *Metrics) *Service {
	s.metrics = metrics
	return s
}

// MovementInput describes a requested quantity movement.
type MovementInput struct {
	MaterialID int64
	Type       EntryType
	Quantity   decimal.Decimal
	Reference  Reference
	Bucket     string
	LotID      *int64
	LocationID *int64
	UnitCost   *decimal.Decimal
	Owner      Owner
	ActorID    int64
}

// RecordMovement appends one entry. The quantity sign is normalized by type
// before storage; a movement that would drive (material, owner) on-hand
// negative fails with InsufficientStockError and leaves state unchanged. The
// guard applies uniformly, adjustments included.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Entry, error) {
	if input.MaterialID == 0 {
		return Entry{}, shared.NewValidation("material_id", "required")
	}
	if !input.Type.Valid() {
		return Entry{}, shared.NewValidation("type", "unknown transaction type")
	}
	if input.Quantity.IsZero() {
		return Entry{}, shared.NewValidation("quantity", "must be non zero")
	}
	if input.UnitCost != nil && input.UnitCost.IsNegative() {
		return Entry{}, shared.NewValidation("unit_cost", "must be >= 0")
	}
	if err := input.Owner.Validate(); err != nil {
		return Entry{}, err
	}

	quantity := NormalizeQuantity(input.Type, input.Quantity)
	bucket := input.Bucket
	if bucket == "" {
		bucket = BucketStock
	}
	entry := Entry{
		MaterialID: input.MaterialID,
		Type:       input.Type,
		Quantity:   quantity,
		Reference:  input.Reference,
		Bucket:     bucket,
		LotID:      input.LotID,
		LocationID: input.LocationID,
		UnitCost:   input.UnitCost,
		Owner:      input.Owner,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockMaterial(ctx, input.MaterialID); err != nil {
			return err
		}
		onHand, err := tx.OnHand(ctx, input.MaterialID, input.Owner)
		if err != nil {
			return err
		}
		if onHand.Add(quantity).IsNegative() {
			return &shared.InsufficientStockError{
				MaterialID: input.MaterialID,
				Requested:  quantity,
				OnHand:     onHand,
			}
		}
		entry, err = tx.InsertEntry(ctx, entry)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.metrics.ObserveMovement(entry.Type, entry.Owner)

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditEvent{
			EventType: fmt.Sprintf("ledger.%s", entry.Type),
			Entity:    "ledger_entry",
			EntityID:  fmt.Sprintf("%d", entry.ID),
			ActorID:   input.ActorID,
			NewValue: map[string]any{
				"material_id": entry.MaterialID,
				"quantity":    entry.Quantity.String(),
				"owner_type":  entry.Owner.Type,
			},
		})
	}
	return entry, nil
}

// OnHand returns the running sum for one (material, owner) pair.
func (s *Service) OnHand(ctx context.Context, materialID int64, owner Owner) (decimal.Decimal, error) {
	if materialID == 0 {
		return decimal.Zero, shared.NewValidation("material_id", "required")
	}
	if err := owner.Validate(); err != nil {
		return decimal.Zero, err
	}
	return s.repo.OnHand(ctx, materialID, owner)
}

// OnHandBatch resolves on-hand for many materials with one aggregate query.
func (s *Service) OnHandBatch(ctx context.Context, materialIDs []int64, owner Owner) (map[int64]decimal.Decimal, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return s.repo.OnHandBatch(ctx, materialIDs, owner)
}

// ListEntries lists matching entries.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	if filter.MaterialID == 0 {
		return nil, shared.NewValidation("material_id", "required")
	}
	return s.repo.ListEntries(ctx, filter)
}
