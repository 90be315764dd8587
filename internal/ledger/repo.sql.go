package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/volta-ems/volta/internal/shared"
)

// Repository persists ledger entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	LockMaterial(ctx context.Context, materialID int64) error
	OnHand(ctx context.Context, materialID int64, owner Owner) (decimal.Decimal, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
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

func (r *txRepository) LockMaterial(ctx context.Context, materialID int64) error {
	return LockMaterialTx(ctx, r.tx, materialID)
}

func (r *txRepository) OnHand(ctx context.Context, materialID int64, owner Owner) (decimal.Decimal, error) {
	return OnHandTx(ctx, r.tx, materialID, owner)
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	return InsertEntryTx(ctx, r.tx, entry)
}

// LockMaterialTx takes a row lock on the material so concurrent movers
// serialise on the on-hand aggregate. Fails NotFound for unknown or
// soft-deleted materials.
func LockMaterialTx(ctx context.Context, tx pgx.Tx, materialID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM materials WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, materialID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NewNotFound("material", materialID)
		}
		return err
	}
	return nil
}

// OnHandTx sums signed quantities for the (material, owner) pair inside tx.
func OnHandTx(ctx context.Context, tx pgx.Tx, materialID int64, owner Owner) (decimal.Decimal, error) {
	var onHand decimal.Decimal
	err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0)
FROM ledger_entries
WHERE material_id=$1 AND owner_type=$2 AND owner_id IS NOT DISTINCT FROM $3`,
		materialID, string(owner.Type), ownerID(owner)).Scan(&onHand)
	if err != nil {
		return decimal.Zero, err
	}
	return onHand, nil
}

// OnHandLotTx sums signed quantities for the (material, owner) pair within
// one lot. A nil lotID falls back to the material-level sum.
func OnHandLotTx(ctx context.Context, tx pgx.Tx, materialID int64, owner Owner, lotID *int64) (decimal.Decimal, error) {
	if lotID == nil {
		return OnHandTx(ctx, tx, materialID, owner)
	}
	var onHand decimal.Decimal
	err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0)
FROM ledger_entries
WHERE material_id=$1 AND owner_type=$2 AND owner_id IS NOT DISTINCT FROM $3 AND lot_id=$4`,
		materialID, string(owner.Type), ownerID(owner), *lotID).Scan(&onHand)
	if err != nil {
		return decimal.Zero, err
	}
	return onHand, nil
}

// InsertEntryTx appends one entry inside tx and returns it with id and
// created_at filled in.
func InsertEntryTx(ctx context.Context, tx pgx.Tx, entry Entry) (Entry, error) {
	err := tx.QueryRow(ctx, `INSERT INTO ledger_entries
(material_id, transaction_type, quantity, reference_type, reference_id, bucket, lot_id, location_id, unit_cost, owner_type, owner_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at`,
		entry.MaterialID, string(entry.Type), entry.Quantity,
		entry.Reference.Type, entry.Reference.ID, entry.Bucket,
		entry.LotID, entry.LocationID, entry.UnitCost,
		string(entry.Owner.Type), ownerID(entry.Owner)).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func ownerID(owner Owner) *int64 {
	if owner.Type == OwnerCustomer {
		id := owner.CustomerID
		return &id
	}
	return nil
}

// OnHand sums signed quantities for one (material, owner) pair.
func (r *Repository) OnHand(ctx context.Context, materialID int64, owner Owner) (decimal.Decimal, error) {
	var onHand decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0)
FROM ledger_entries
WHERE material_id=$1 AND owner_type=$2 AND owner_id IS NOT DISTINCT FROM $3`,
		materialID, string(owner.Type), ownerID(owner)).Scan(&onHand)
	if err != nil {
		return decimal.Zero, err
	}
	return onHand, nil
}

// OnHandBatch resolves on-hand for many materials with one aggregate query.
func (r *Repository) OnHandBatch(ctx context.Context, materialIDs []int64, owner Owner) (map[int64]decimal.Decimal, error) {
	result := make(map[int64]decimal.Decimal, len(materialIDs))
	if len(materialIDs) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT material_id, COALESCE(SUM(quantity), 0)
FROM ledger_entries
WHERE material_id = ANY($1) AND owner_type=$2 AND owner_id IS NOT DISTINCT FROM $3
GROUP BY material_id`, materialIDs, string(owner.Type), ownerID(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var materialID int64
		var qty decimal.Decimal
		if err := rows.Scan(&materialID, &qty); err != nil {
			return nil, err
		}
		result[materialID] = qty
	}
	return result, rows.Err()
}

// ListEntries returns matching entries, oldest first.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	query := `SELECT id, material_id, transaction_type, quantity, reference_type, reference_id, bucket, lot_id, location_id, unit_cost, owner_type, owner_id, created_at
FROM ledger_entries WHERE material_id=$1`
	args := []any{filter.MaterialID}
	if filter.Owner != nil {
		args = append(args, string(filter.Owner.Type), ownerID(*filter.Owner))
		query += fmt.Sprintf(" AND owner_type=$%d AND owner_id IS NOT DISTINCT FROM $%d", len(args)-1, len(args))
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		query += fmt.Sprintf(" AND transaction_type = ANY($%d)", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var txType, ownerType string
		var refType *string
		var refID, ownID *int64
		if err := rows.Scan(&e.ID, &e.MaterialID, &txType, &e.Quantity, &refType, &refID, &e.Bucket,
			&e.LotID, &e.LocationID, &e.UnitCost, &ownerType, &ownID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EntryType(txType)
		if refType != nil {
			e.Reference.Type = strings.TrimSpace(*refType)
		}
		if refID != nil {
			e.Reference.ID = *refID
		}
		e.Owner.Type = OwnerType(ownerType)
		if ownID != nil {
			e.Owner.CustomerID = *ownID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
