package mrp

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository runs the aggregate read queries the requirements engine is
// built on. Every metric resolves with one query across all involved
// materials; this runs over every active order's full BOM on each call.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DemandLines joins open orders with their locked BOM lines.
func (r *Repository) DemandLines(ctx context.Context, statuses []string) ([]DemandLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT o.id, b.material_id, o.quantity, b.quantity_required, b.scrap_factor_percent
FROM orders o
JOIN bom_items b ON b.bom_revision_id = o.bom_revision_id
WHERE o.status = ANY($1)
ORDER BY b.material_id, o.id`, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DemandLine
	for rows.Next() {
		var d DemandLine
		if err := rows.Scan(&d.OrderID, &d.MaterialID, &d.OrderQuantity, &d.QuantityRequired, &d.ScrapFactorPercent); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// OnHandBatch sums company-pool ledger quantity per material.
func (r *Repository) OnHandBatch(ctx context.Context, materialIDs []int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT material_id, COALESCE(SUM(quantity), 0)
FROM ledger_entries
WHERE material_id = ANY($1) AND owner_type = 'COMPANY'
GROUP BY material_id`, materialIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal, len(materialIDs))
	for rows.Next() {
		var id int64
		var sum decimal.Decimal
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

// ActiveAllocations returns company-pool active reservations per
// (material, order) pair.
func (r *Repository) ActiveAllocations(ctx context.Context, materialIDs []int64) ([]AllocationRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT material_id, order_id, SUM(quantity)
FROM allocations
WHERE material_id = ANY($1) AND status = 'ACTIVE' AND owner_type = 'COMPANY'
GROUP BY material_id, order_id`, materialIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AllocationRow
	for rows.Next() {
		var a AllocationRow
		if err := rows.Scan(&a.MaterialID, &a.OrderID, &a.Quantity); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// OnOrderBatch sums open purchase supply (ordered minus received) per
// material.
func (r *Repository) OnOrderBatch(ctx context.Context, materialIDs []int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.material_id, COALESCE(SUM(l.quantity_ordered - l.quantity_received), 0)
FROM purchase_order_lines l
JOIN purchase_orders p ON p.id = l.purchase_order_id
WHERE l.material_id = ANY($1) AND p.status IN ('OPEN', 'PARTIAL')
GROUP BY l.material_id`, materialIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal, len(materialIDs))
	for rows.Next() {
		var id int64
		var sum decimal.Decimal
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}
