package materials

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/shared"
)

// Repository persists materials in PostgreSQL.
type Repository interface {
	List(ctx context.Context, search string, limit int) ([]Material, error)
	Get(ctx context.Context, id int64) (Material, error)
	Create(ctx context.Context, m Material) (Material, error)
	Update(ctx context.Context, m Material) error
	SoftDelete(ctx context.Context, id int64) error
	StandardCostBatch(ctx context.Context, ids []int64) (map[int64]*decimal.Decimal, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const materialColumns = `id, part_number, description, unit_of_measure, costing_method, standard_cost, created_at, updated_at, deleted_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	var method string
	err := row.Scan(&m.ID, &m.PartNumber, &m.Description, &m.UnitOfMeasure, &method,
		&m.StandardCost, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if err != nil {
		return Material{}, err
	}
	m.CostingMethod = CostingMethod(method)
	return m, nil
}

func (r *repository) List(ctx context.Context, search string, limit int) ([]Material, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+materialColumns+` FROM materials
WHERE deleted_at IS NULL AND ($1 = '' OR part_number ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
ORDER BY part_number LIMIT $2`, search, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id=$1 AND deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, shared.NewNotFound("material", id)
		}
		return Material{}, err
	}
	return m, nil
}

func (r *repository) Create(ctx context.Context, m Material) (Material, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO materials (part_number, description, unit_of_measure, costing_method, standard_cost)
VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`,
		m.PartNumber, m.Description, m.UnitOfMeasure, string(m.CostingMethod), m.StandardCost).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return Material{}, &shared.ConflictError{Reason: "part number already exists"}
		}
		return Material{}, err
	}
	return m, nil
}

func (r *repository) Update(ctx context.Context, m Material) error {
	tag, err := r.pool.Exec(ctx, `UPDATE materials SET description=$2, unit_of_measure=$3, costing_method=$4, standard_cost=$5, updated_at=NOW()
WHERE id=$1 AND deleted_at IS NULL`,
		m.ID, m.Description, m.UnitOfMeasure, string(m.CostingMethod), m.StandardCost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFound("material", m.ID)
	}
	return nil
}

func (r *repository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE materials SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFound("material", id)
	}
	return nil
}

func (r *repository) StandardCostBatch(ctx context.Context, ids []int64) (map[int64]*decimal.Decimal, error) {
	result := make(map[int64]*decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, standard_cost FROM materials WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var cost *decimal.Decimal
		if err := rows.Scan(&id, &cost); err != nil {
			return nil, err
		}
		result[id] = cost
	}
	return result, rows.Err()
}
