package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/allocation"
	"github.com/volta-ems/volta/internal/shared"
)

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
// Allocation cancellation rides in the same transaction so cancelling an
// order and releasing its reservations commit together.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	Insert(ctx context.Context, o Order) (Order, error)
	UpdateStatus(ctx context.Context, id, expectedVersion int64, status Status, previous *Status) error
	UpdateShipped(ctx context.Context, id, expectedVersion int64, shipped decimal.Decimal, status Status) error
	CancelAllocations(ctx context.Context, orderID int64) (int, error)
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

const orderColumns = `id, order_number, customer_id, product_id, bom_revision_id, quantity, quantity_shipped,
order_type, status, previous_status, due_date, version, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var orderType, status string
	var previous *string
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.ProductID, &o.BOMRevisionID,
		&o.Quantity, &o.QuantityShipped, &orderType, &status, &previous,
		&o.DueDate, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Type = OrderType(orderType)
	o.Status = Status(status)
	if previous != nil {
		p := Status(*previous)
		o.PreviousStatus = &p
	}
	return o, nil
}

// Get returns one order.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.NewNotFound("order", id)
		}
		return Order{}, err
	}
	return o, nil
}

// List returns orders matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Order, error) {
	var conditions []string
	var args []any
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.CustomerID != 0 {
		args = append(args, filter.CustomerID)
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY id DESC`
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.NewNotFound("order", id)
		}
		return Order{}, err
	}
	return o, nil
}

func (r *txRepository) Insert(ctx context.Context, o Order) (Order, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO orders
(order_number, customer_id, product_id, bom_revision_id, quantity, quantity_shipped, order_type, status, due_date, version)
VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, 1)
RETURNING id, quantity_shipped, version, created_at, updated_at`,
		o.OrderNumber, o.CustomerID, o.ProductID, o.BOMRevisionID, o.Quantity,
		string(o.Type), string(o.Status), o.DueDate).
		Scan(&o.ID, &o.QuantityShipped, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, id, expectedVersion int64, status Status, previous *Status) error {
	var prev *string
	if previous != nil {
		s := string(*previous)
		prev = &s
	}
	tag, err := r.tx.Exec(ctx, `UPDATE orders SET status=$3, previous_status=$4, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$2`, id, expectedVersion, string(status), prev)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.ConflictError{Reason: "order changed concurrently", OrderID: id}
	}
	return nil
}

func (r *txRepository) UpdateShipped(ctx context.Context, id, expectedVersion int64, shipped decimal.Decimal, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE orders SET quantity_shipped=$3, status=$4, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$2`, id, expectedVersion, shipped, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.ConflictError{Reason: "order changed concurrently", OrderID: id}
	}
	return nil
}

func (r *txRepository) CancelAllocations(ctx context.Context, orderID int64) (int, error) {
	return allocation.CancelActiveByOrderTx(ctx, r.tx, orderID)
}
