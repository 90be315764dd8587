package cyclecount

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/shared"
)

// Repository persists cycle counts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
// Snapshotting all items on start and writing adjustment entries on approval
// each happen inside one transaction.
type TxRepository interface {
	GetCountForUpdate(ctx context.Context, id int64) (Count, error)
	GetItemForUpdate(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, countID int64) ([]Item, error)
	InsertCount(ctx context.Context, c Count) (Count, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	UpdateCountStatus(ctx context.Context, id int64, status CountStatus) error
	UpdateItemSnapshot(ctx context.Context, id int64, system decimal.Decimal, unitCost *decimal.Decimal) error
	UpdateItemCount(ctx context.Context, item Item) error
	UpdateItemApproval(ctx context.Context, id int64, status ItemStatus, adjustmentID *int64) error
	UpdateItemSkip(ctx context.Context, id int64, reason string) error
	LockMaterial(ctx context.Context, materialID int64) error
	OnHand(ctx context.Context, materialID int64, owner ledger.Owner, lotID *int64) (decimal.Decimal, error)
	InsertLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error)
	StandardCosts(ctx context.Context, materialIDs []int64) (map[int64]*decimal.Decimal, error)
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

const countColumns = `id, count_number, owner_type, owner_id, status, COALESCE(notes, ''), created_at, updated_at`

func scanCount(row pgx.Row) (Count, error) {
	var c Count
	var ownerType, status string
	var ownerID *int64
	err := row.Scan(&c.ID, &c.CountNumber, &ownerType, &ownerID, &status, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Count{}, err
	}
	c.Owner.Type = ledger.OwnerType(ownerType)
	if ownerID != nil {
		c.Owner.CustomerID = *ownerID
	}
	c.Status = CountStatus(status)
	return c, nil
}

const itemColumns = `id, cycle_count_id, material_id, lot_id, status, system_quantity, counted_quantity,
variance, variance_percent, variance_value, unit_cost, recount_number, previous_counted_quantity,
skip_reason, adjustment_transaction_id`

func scanItem(row pgx.Row) (Item, error) {
	var i Item
	var status string
	err := row.Scan(&i.ID, &i.CycleCountID, &i.MaterialID, &i.LotID, &status, &i.SystemQuantity,
		&i.CountedQuantity, &i.Variance, &i.VariancePercent, &i.VarianceValue, &i.UnitCost,
		&i.RecountNumber, &i.PreviousCountedQuantity, &i.SkipReason, &i.AdjustmentTransactionID)
	if err != nil {
		return Item{}, err
	}
	i.Status = ItemStatus(status)
	return i, nil
}

func ownerID(owner ledger.Owner) *int64 {
	if owner.Type == ledger.OwnerCustomer {
		id := owner.CustomerID
		return &id
	}
	return nil
}

// GetCount returns one count header.
func (r *Repository) GetCount(ctx context.Context, id int64) (Count, error) {
	c, err := scanCount(r.pool.QueryRow(ctx, `SELECT `+countColumns+` FROM cycle_counts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Count{}, shared.NewNotFound("cycle_count", id)
		}
		return Count{}, err
	}
	return c, nil
}

// GetItems returns every item of a count.
func (r *Repository) GetItems(ctx context.Context, countID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM cycle_count_items
WHERE cycle_count_id=$1 ORDER BY material_id`, countID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *txRepository) GetCountForUpdate(ctx context.Context, id int64) (Count, error) {
	c, err := scanCount(r.tx.QueryRow(ctx, `SELECT `+countColumns+` FROM cycle_counts WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Count{}, shared.NewNotFound("cycle_count", id)
		}
		return Count{}, err
	}
	return c, nil
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM cycle_count_items WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.NewNotFound("cycle_count_item", id)
		}
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) ListItems(ctx context.Context, countID int64) ([]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+itemColumns+` FROM cycle_count_items
WHERE cycle_count_id=$1 ORDER BY material_id FOR UPDATE`, countID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertCount(ctx context.Context, c Count) (Count, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO cycle_counts (count_number, owner_type, owner_id, status, notes)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at, updated_at`,
		c.CountNumber, string(c.Owner.Type), ownerID(c.Owner), string(c.Status), c.Notes).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Count{}, err
	}
	return c, nil
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (Item, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO cycle_count_items
(cycle_count_id, material_id, lot_id, status, system_quantity, recount_number)
VALUES ($1, $2, $3, $4, 0, 0)
RETURNING id`,
		item.CycleCountID, item.MaterialID, item.LotID, string(item.Status)).
		Scan(&item.ID)
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) UpdateCountStatus(ctx context.Context, id int64, status CountStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE cycle_counts SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFound("cycle_count", id)
	}
	return nil
}

func (r *txRepository) UpdateItemSnapshot(ctx context.Context, id int64, system decimal.Decimal, unitCost *decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE cycle_count_items SET system_quantity=$2, unit_cost=$3 WHERE id=$1`,
		id, system, unitCost)
	return err
}

func (r *txRepository) UpdateItemCount(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `UPDATE cycle_count_items
SET status=$2, counted_quantity=$3, variance=$4, variance_percent=$5, variance_value=$6,
    recount_number=$7, previous_counted_quantity=$8
WHERE id=$1`,
		item.ID, string(item.Status), item.CountedQuantity, item.Variance, item.VariancePercent,
		item.VarianceValue, item.RecountNumber, item.PreviousCountedQuantity)
	return err
}

func (r *txRepository) UpdateItemApproval(ctx context.Context, id int64, status ItemStatus, adjustmentID *int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE cycle_count_items SET status=$2, adjustment_transaction_id=$3 WHERE id=$1`,
		id, string(status), adjustmentID)
	return err
}

func (r *txRepository) UpdateItemSkip(ctx context.Context, id int64, reason string) error {
	_, err := r.tx.Exec(ctx, `UPDATE cycle_count_items SET status=$2, skip_reason=$3 WHERE id=$1`,
		id, string(ItemSkipped), reason)
	return err
}

func (r *txRepository) LockMaterial(ctx context.Context, materialID int64) error {
	return ledger.LockMaterialTx(ctx, r.tx, materialID)
}

func (r *txRepository) OnHand(ctx context.Context, materialID int64, owner ledger.Owner, lotID *int64) (decimal.Decimal, error) {
	return ledger.OnHandLotTx(ctx, r.tx, materialID, owner, lotID)
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	return ledger.InsertEntryTx(ctx, r.tx, entry)
}

func (r *txRepository) StandardCosts(ctx context.Context, materialIDs []int64) (map[int64]*decimal.Decimal, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, standard_cost FROM materials WHERE id = ANY($1)`, materialIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]*decimal.Decimal, len(materialIDs))
	for rows.Next() {
		var id int64
		var cost *decimal.Decimal
		if err := rows.Scan(&id, &cost); err != nil {
			return nil, err
		}
		out[id] = cost
	}
	return out, rows.Err()
}
