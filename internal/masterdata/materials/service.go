package materials

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/shared"
)

// AuditPort abstracts the audit sink.
type AuditPort interface {
	Record(ctx context.Context, event shared.AuditEvent) error
}

// Service provides material master operations.
type Service struct {
	repo     Repository
	audit    AuditPort
	validate *validator.Validate
}

// NewService constructs the service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, validate: validator.New()}
}

// CreateInput describes a new material.
type CreateInput struct {
	PartNumber    string           `validate:"required,max=64"`
	Description   string           `validate:"max=256"`
	UnitOfMeasure string           `validate:"required,max=16"`
	CostingMethod CostingMethod    `validate:"required,oneof=STANDARD AVERAGE FIFO"`
	StandardCost  *decimal.Decimal `validate:"-"`
}

// UpdateInput describes a material update.
type UpdateInput struct {
	Description   string           `validate:"max=256"`
	UnitOfMeasure string           `validate:"required,max=16"`
	CostingMethod CostingMethod    `validate:"required,oneof=STANDARD AVERAGE FIFO"`
	StandardCost  *decimal.Decimal `validate:"-"`
}

// Create registers a material.
func (s *Service) Create(ctx context.Context, input CreateInput) (Material, error) {
	if err := s.validate.Struct(input); err != nil {
		return Material{}, shared.NewValidation("material", err.Error())
	}
	if input.StandardCost != nil && input.StandardCost.IsNegative() {
		return Material{}, shared.NewValidation("standard_cost", "must be >= 0")
	}
	m, err := s.repo.Create(ctx, Material{
		PartNumber:    input.PartNumber,
		Description:   input.Description,
		UnitOfMeasure: input.UnitOfMeasure,
		CostingMethod: input.CostingMethod,
		StandardCost:  input.StandardCost,
	})
	if err != nil {
		return Material{}, err
	}
	s.recordAudit(ctx, "material.create", m.ID, map[string]any{"part_number": m.PartNumber})
	return m, nil
}

// Update modifies a material.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Material, error) {
	if err := s.validate.Struct(input); err != nil {
		return Material{}, shared.NewValidation("material", err.Error())
	}
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return Material{}, err
	}
	m.Description = input.Description
	m.UnitOfMeasure = input.UnitOfMeasure
	m.CostingMethod = input.CostingMethod
	m.StandardCost = input.StandardCost
	if err := s.repo.Update(ctx, m); err != nil {
		return Material{}, err
	}
	s.recordAudit(ctx, "material.update", id, nil)
	return m, nil
}

// Get fetches one material.
func (s *Service) Get(ctx context.Context, id int64) (Material, error) {
	return s.repo.Get(ctx, id)
}

// List returns matching materials.
func (s *Service) List(ctx context.Context, search string, limit int) ([]Material, error) {
	return s.repo.List(ctx, search, limit)
}

// Delete soft-deletes a material; ledger history stays intact.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "material.delete", id, nil)
	return nil
}

// StandardCostBatch resolves standard costs for many materials at once.
func (s *Service) StandardCostBatch(ctx context.Context, ids []int64) (map[int64]*decimal.Decimal, error) {
	return s.repo.StandardCostBatch(ctx, ids)
}

func (s *Service) recordAudit(ctx context.Context, eventType string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEvent{
		EventType: eventType,
		Entity:    "material",
		EntityID:  fmt.Sprintf("%d", id),
		Meta:      meta,
	})
}
