package bom

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/volta-ems/volta/internal/shared"
)

// Repository reads BOM revisions from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRevision returns one revision header.
func (r *Repository) GetRevision(ctx context.Context, id int64) (Revision, error) {
	var rev Revision
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, label, created_at FROM bom_revisions WHERE id=$1`, id).
		Scan(&rev.ID, &rev.ProductID, &rev.Label, &rev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Revision{}, shared.NewNotFound("bom_revision", id)
		}
		return Revision{}, err
	}
	return rev, nil
}

// Lines returns all lines of a revision.
func (r *Repository) Lines(ctx context.Context, revisionID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT bom_revision_id, material_id, quantity_required, scrap_factor_percent, COALESCE(resource_type, '')
FROM bom_items WHERE bom_revision_id=$1 ORDER BY material_id`, revisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.BOMRevisionID, &l.MaterialID, &l.QuantityRequired, &l.ScrapFactorPercent, &l.ResourceType); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
