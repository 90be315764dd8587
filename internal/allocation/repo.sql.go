package allocation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/shared"
)

// Repository persists allocations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. Ledger
// writes ride in the same transaction so consuming an allocation and
// recording the movement commit or roll back together.
type TxRepository interface {
	LockMaterial(ctx context.Context, materialID int64) error
	OnHand(ctx context.Context, materialID int64, owner ledger.Owner) (decimal.Decimal, error)
	ActiveQuantitySum(ctx context.Context, materialID int64, owner ledger.Owner) (decimal.Decimal, error)
	FindActive(ctx context.Context, materialID, orderID int64) (Allocation, bool, error)
	GetForUpdate(ctx context.Context, id int64) (Allocation, error)
	Insert(ctx context.Context, a Allocation) (Allocation, error)
	UpdateQuantity(ctx context.Context, id, expectedVersion int64, quantity decimal.Decimal) error
	UpdateStatus(ctx context.Context, id, expectedVersion int64, status Status) error
	CancelActiveByOrder(ctx context.Context, orderID int64) (int, error)
	InsertLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("allocation repository not initialised")
	}
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

const allocationColumns = `id, material_id, order_id, quantity, status, owner_type, owner_id, version, created_at, updated_at`

func scanAllocation(row pgx.Row) (Allocation, error) {
	var a Allocation
	var status, ownerType string
	var ownerID *int64
	err := row.Scan(&a.ID, &a.MaterialID, &a.OrderID, &a.Quantity, &status,
		&ownerType, &ownerID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Allocation{}, err
	}
	a.Status = Status(status)
	a.Owner.Type = ledger.OwnerType(ownerType)
	if ownerID != nil {
		a.Owner.CustomerID = *ownerID
	}
	return a, nil
}

func ownerID(owner ledger.Owner) *int64 {
	if owner.Type == ledger.OwnerCustomer {
		id := owner.CustomerID
		return &id
	}
	return nil
}

// Get returns one allocation.
func (r *Repository) Get(ctx context.Context, id int64) (Allocation, error) {
	a, err := scanAllocation(r.pool.QueryRow(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Allocation{}, shared.NewNotFound("allocation", id)
		}
		return Allocation{}, err
	}
	return a, nil
}

// ListActiveByOrder returns every ACTIVE allocation for an order.
func (r *Repository) ListActiveByOrder(ctx context.Context, orderID int64) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+allocationColumns+` FROM allocations
WHERE order_id=$1 AND status='ACTIVE' ORDER BY material_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepository) LockMaterial(ctx context.Context, materialID int64) error {
	return ledger.LockMaterialTx(ctx, r.tx, materialID)
}

func (r *txRepository) OnHand(ctx context.Context, materialID int64, owner ledger.Owner) (decimal.Decimal, error) {
	return ledger.OnHandTx(ctx, r.tx, materialID, owner)
}

func (r *txRepository) ActiveQuantitySum(ctx context.Context, materialID int64, owner ledger.Owner) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM allocations
WHERE material_id=$1 AND status='ACTIVE' AND owner_type=$2 AND owner_id IS NOT DISTINCT FROM $3`,
		materialID, string(owner.Type), ownerID(owner)).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (r *txRepository) FindActive(ctx context.Context, materialID, orderID int64) (Allocation, bool, error) {
	a, err := scanAllocation(r.tx.QueryRow(ctx, `SELECT `+allocationColumns+` FROM allocations
WHERE material_id=$1 AND order_id=$2 AND status='ACTIVE' FOR UPDATE`, materialID, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Allocation{}, false, nil
		}
		return Allocation{}, false, err
	}
	return a, true, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Allocation, error) {
	a, err := scanAllocation(r.tx.QueryRow(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Allocation{}, shared.NewNotFound("allocation", id)
		}
		return Allocation{}, err
	}
	return a, nil
}

func (r *txRepository) Insert(ctx context.Context, a Allocation) (Allocation, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO allocations (material_id, order_id, quantity, status, owner_type, owner_id, version)
VALUES ($1, $2, $3, $4, $5, $6, 1)
RETURNING id, version, created_at, updated_at`,
		a.MaterialID, a.OrderID, a.Quantity, string(a.Status), string(a.Owner.Type), ownerID(a.Owner)).
		Scan(&a.ID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return Allocation{}, &shared.ConflictError{
				Reason:     "active allocation already exists",
				MaterialID: a.MaterialID,
				OrderID:    a.OrderID,
			}
		}
		return Allocation{}, err
	}
	return a, nil
}

func (r *txRepository) UpdateQuantity(ctx context.Context, id, expectedVersion int64, quantity decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE allocations SET quantity=$3, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$2 AND status='ACTIVE'`, id, expectedVersion, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.ConflictError{Reason: "allocation changed concurrently"}
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, id, expectedVersion int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE allocations SET status=$3, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$2`, id, expectedVersion, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.ConflictError{Reason: "allocation changed concurrently"}
	}
	return nil
}

func (r *txRepository) CancelActiveByOrder(ctx context.Context, orderID int64) (int, error) {
	return CancelActiveByOrderTx(ctx, r.tx, orderID)
}

// CancelActiveByOrderTx cancels every ACTIVE allocation of an order inside
// the caller's transaction. Order cancellation uses it so the status change
// and the deallocation commit together.
func CancelActiveByOrderTx(ctx context.Context, tx pgx.Tx, orderID int64) (int, error) {
	tag, err := tx.Exec(ctx, `UPDATE allocations SET status='CANCELLED', version=version+1, updated_at=NOW()
WHERE order_id=$1 AND status='ACTIVE'`, orderID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	return ledger.InsertEntryTx(ctx, r.tx, entry)
}
