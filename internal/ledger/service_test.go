package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/volta-ems/volta/internal/shared"
)

type memoryRepo struct {
	nextID    int64
	entries   []Entry
	materials map[int64]bool
}

func newMemoryRepo(materialIDs ...int64) *memoryRepo {
	m := &memoryRepo{nextID: 1, materials: map[int64]bool{}}
	for _, id := range materialIDs {
		m.materials[id] = true
	}
	return m
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make([]Entry, len(m.entries))
	copy(snapshot, m.entries)
	snapshotID := m.nextID
	if err := fn(ctx, m); err != nil {
		m.entries = snapshot
		m.nextID = snapshotID
		return err
	}
	return nil
}

func (m *memoryRepo) LockMaterial(_ context.Context, materialID int64) error {
	if !m.materials[materialID] {
		return shared.NewNotFound("material", materialID)
	}
	return nil
}

func (m *memoryRepo) OnHand(_ context.Context, materialID int64, owner Owner) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range m.entries {
		if e.MaterialID == materialID && e.Owner == owner {
			sum = sum.Add(e.Quantity)
		}
	}
	return sum, nil
}

func (m *memoryRepo) OnHandBatch(ctx context.Context, materialIDs []int64, owner Owner) (map[int64]decimal.Decimal, error) {
	out := map[int64]decimal.Decimal{}
	for _, id := range materialIDs {
		sum, err := m.OnHand(ctx, id, owner)
		if err != nil {
			return nil, err
		}
		if !sum.IsZero() {
			out[id] = sum
		}
	}
	return out, nil
}

func (m *memoryRepo) InsertEntry(_ context.Context, entry Entry) (Entry, error) {
	entry.ID = m.nextID
	entry.CreatedAt = time.Now()
	m.nextID++
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *memoryRepo) ListEntries(_ context.Context, filter EntryFilter) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.MaterialID == filter.MaterialID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryAudit struct {
	events []shared.AuditEvent
}

func (m *memoryAudit) Record(_ context.Context, event shared.AuditEvent) error {
	m.events = append(m.events, event)
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRecordMovementNormalizesSign(t *testing.T) {
	repo := newMemoryRepo(1)
	svc := NewService(repo, &memoryAudit{})
	ctx := context.Background()

	receipt, err := svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1,
		Type:       EntryTypeReceipt,
		Quantity:   dec("-100"),
		Owner:      CompanyOwner(),
	})
	require.NoError(t, err)
	require.True(t, receipt.Quantity.Equal(dec("100")), "receipt stored as %s", receipt.Quantity)

	consumption, err := svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1,
		Type:       EntryTypeConsumption,
		Quantity:   dec("40"),
		Owner:      CompanyOwner(),
	})
	require.NoError(t, err)
	require.True(t, consumption.Quantity.Equal(dec("-40")), "consumption stored as %s", consumption.Quantity)

	onHand, err := svc.OnHand(ctx, 1, CompanyOwner())
	require.NoError(t, err)
	require.True(t, onHand.Equal(dec("60")))
}

func TestRecordMovementAdjustmentKeepsSign(t *testing.T) {
	repo := newMemoryRepo(1)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeReceipt, Quantity: dec("10"), Owner: CompanyOwner(),
	})
	require.NoError(t, err)

	adj, err := svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeAdjustment, Quantity: dec("-3"), Owner: CompanyOwner(),
	})
	require.NoError(t, err)
	require.True(t, adj.Quantity.Equal(dec("-3")))
}

func TestRecordMovementRejectsNegativeOnHand(t *testing.T) {
	repo := newMemoryRepo(1)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeReceipt, Quantity: dec("5"), Owner: CompanyOwner(),
	})
	require.NoError(t, err)

	_, err = svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeConsumption, Quantity: dec("6"), Owner: CompanyOwner(),
	})
	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.OnHand.Equal(dec("5")))

	onHand, err := svc.OnHand(ctx, 1, CompanyOwner())
	require.NoError(t, err)
	require.True(t, onHand.Equal(dec("5")), "failed movement must not change on-hand")
}

func TestRecordMovementGuardAppliesToAdjustments(t *testing.T) {
	repo := newMemoryRepo(1)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeAdjustment, Quantity: dec("-1"), Owner: CompanyOwner(),
	})
	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
}

func TestRecordMovementOwnerPoolsAreIndependent(t *testing.T) {
	repo := newMemoryRepo(1)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeReceipt, Quantity: dec("100"), Owner: CompanyOwner(),
	})
	require.NoError(t, err)
	_, err = svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeReceipt, Quantity: dec("30"), Owner: CustomerOwner(7),
	})
	require.NoError(t, err)

	// Consuming 40 from the consignment pool must fail even though the
	// company pool holds plenty.
	_, err = svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeConsumption, Quantity: dec("40"), Owner: CustomerOwner(7),
	})
	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	company, err := svc.OnHand(ctx, 1, CompanyOwner())
	require.NoError(t, err)
	require.True(t, company.Equal(dec("100")))
	customer, err := svc.OnHand(ctx, 1, CustomerOwner(7))
	require.NoError(t, err)
	require.True(t, customer.Equal(dec("30")))
}

func TestRecordMovementValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(1), nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: "TELEPORT", Quantity: dec("1"), Owner: CompanyOwner(),
	})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeReceipt, Quantity: decimal.Zero, Owner: CompanyOwner(),
	})
	require.ErrorAs(t, err, &validation)

	_, err = svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeReceipt, Quantity: dec("1"),
		Owner: Owner{Type: OwnerCompany, CustomerID: 9},
	})
	require.ErrorAs(t, err, &validation)

	_, err = svc.RecordMovement(ctx, MovementInput{
		MaterialID: 1, Type: EntryTypeReceipt, Quantity: dec("1"),
		Owner: Owner{Type: OwnerCustomer},
	})
	require.ErrorAs(t, err, &validation)
}

func TestRecordMovementUnknownMaterial(t *testing.T) {
	svc := NewService(newMemoryRepo(1), nil)

	_, err := svc.RecordMovement(context.Background(), MovementInput{
		MaterialID: 999, Type: EntryTypeReceipt, Quantity: dec("1"), Owner: CompanyOwner(),
	})
	var notFound *shared.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRecordMovementEmitsAudit(t *testing.T) {
	audit := &memoryAudit{}
	svc := NewService(newMemoryRepo(1), audit)

	_, err := svc.RecordMovement(context.Background(), MovementInput{
		MaterialID: 1, Type: EntryTypeReceipt, Quantity: dec("1"), Owner: CompanyOwner(), ActorID: 42,
	})
	require.NoError(t, err)
	require.Len(t, audit.events, 1)
	require.Equal(t, "ledger.RECEIPT", audit.events[0].EventType)
	require.Equal(t, int64(42), audit.events[0].ActorID)
}
