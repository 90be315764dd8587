package purchasing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/shared"
)

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
// Receipt ledger entries ride in the same transaction as the line updates.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	Insert(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	UpdateLineReceived(ctx context.Context, lineID int64, received decimal.Decimal) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	LockMaterial(ctx context.Context, materialID int64) error
	InsertLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const poColumns = `id, po_number, supplier_id, status, owner_type, owner_id, expected_date, created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status, ownerType string
	var ownerID *int64
	err := row.Scan(&po.ID, &po.PONumber, &po.SupplierID, &status, &ownerType, &ownerID,
		&po.ExpectedDate, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = Status(status)
	po.Owner.Type = ledger.OwnerType(ownerType)
	if ownerID != nil {
		po.Owner.CustomerID = *ownerID
	}
	return po, nil
}

func ownerID(owner ledger.Owner) *int64 {
	if owner.Type == ledger.OwnerCustomer {
		id := owner.CustomerID
		return &id
	}
	return nil
}

func loadLines(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, poID int64, forUpdate bool,
) ([]Line, error) {
	query := `SELECT id, purchase_order_id, material_id, quantity_ordered, quantity_received, unit_cost
FROM purchase_order_lines WHERE purchase_order_id=$1 ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.PurchaseOrderID, &l.MaterialID, &l.QuantityOrdered, &l.QuantityReceived, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Get returns one purchase order with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.NewNotFound("purchase_order", id)
		}
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, r.pool, id, false)
	return po, err
}

// OnOrderBatch sums outstanding quantity per material across open orders.
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

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.NewNotFound("purchase_order", id)
		}
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, r.tx, id, true)
	return po, err
}

func (r *txRepository) Insert(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (po_number, supplier_id, status, owner_type, owner_id, expected_date)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at, updated_at`,
		po.PONumber, po.SupplierID, string(po.Status), string(po.Owner.Type), ownerID(po.Owner), po.ExpectedDate).
		Scan(&po.ID, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	for i := range po.Lines {
		line := &po.Lines[i]
		line.PurchaseOrderID = po.ID
		err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines
(purchase_order_id, material_id, quantity_ordered, quantity_received, unit_cost)
VALUES ($1, $2, $3, 0, $4)
RETURNING id, quantity_received`,
			po.ID, line.MaterialID, line.QuantityOrdered, line.UnitCost).
			Scan(&line.ID, &line.QuantityReceived)
		if err != nil {
			return PurchaseOrder{}, err
		}
	}
	return po, nil
}

func (r *txRepository) UpdateLineReceived(ctx context.Context, lineID int64, received decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET quantity_received=$2 WHERE id=$1`, lineID, received)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFound("purchase_order_line", lineID)
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFound("purchase_order", id)
	}
	return nil
}

func (r *txRepository) LockMaterial(ctx context.Context, materialID int64) error {
	return ledger.LockMaterialTx(ctx, r.tx, materialID)
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	return ledger.InsertEntryTx(ctx, r.tx, entry)
}
