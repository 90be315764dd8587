package cyclecount

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/volta-ems/volta/internal/ledger"
	"github.com/volta-ems/volta/internal/shared"
)

type memoryRepo struct {
	nextCountID int64
	nextItemID  int64
	nextEntryID int64
	counts      map[int64]Count
	items       map[int64]Item
	entries     []ledger.Entry
	materials   map[int64]bool
	costs       map[int64]*decimal.Decimal
}

func newMemoryRepo(materialIDs ...int64) *memoryRepo {
	m := &memoryRepo{
		nextCountID: 1, nextItemID: 1, nextEntryID: 1,
		counts: map[int64]Count{}, items: map[int64]Item{},
		materials: map[int64]bool{}, costs: map[int64]*decimal.Decimal{},
	}
	for _, id := range materialIDs {
		m.materials[id] = true
	}
	return m
}

func (m *memoryRepo) seedStock(materialID int64, owner ledger.Owner, quantity decimal.Decimal) {
	m.seedLotStock(materialID, owner, nil, quantity)
}

func (m *memoryRepo) seedLotStock(materialID int64, owner ledger.Owner, lotID *int64, quantity decimal.Decimal) {
	m.entries = append(m.entries, ledger.Entry{
		ID: m.nextEntryID, MaterialID: materialID, Type: ledger.EntryTypeReceipt,
		Quantity: quantity, LotID: lotID, Owner: owner,
	})
	m.nextEntryID++
}

func (m *memoryRepo) consumeStock(materialID int64, owner ledger.Owner, quantity decimal.Decimal) {
	m.entries = append(m.entries, ledger.Entry{
		ID: m.nextEntryID, MaterialID: materialID, Type: ledger.EntryTypeConsumption,
		Quantity: quantity.Neg(), Owner: owner,
	})
	m.nextEntryID++
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	countSnap := map[int64]Count{}
	for k, v := range m.counts {
		countSnap[k] = v
	}
	itemSnap := map[int64]Item{}
	for k, v := range m.items {
		itemSnap[k] = v
	}
	entrySnap := make([]ledger.Entry, len(m.entries))
	copy(entrySnap, m.entries)
	c, i, e := m.nextCountID, m.nextItemID, m.nextEntryID
	if err := fn(ctx, m); err != nil {
		m.counts, m.items, m.entries = countSnap, itemSnap, entrySnap
		m.nextCountID, m.nextItemID, m.nextEntryID = c, i, e
		return err
	}
	return nil
}

func (m *memoryRepo) GetCount(_ context.Context, id int64) (Count, error) {
	c, ok := m.counts[id]
	if !ok {
		return Count{}, shared.NewNotFound("cycle_count", id)
	}
	return c, nil
}

func (m *memoryRepo) GetItems(_ context.Context, countID int64) ([]Item, error) {
	var out []Item
	for id := int64(1); id < m.nextItemID; id++ {
		if item, ok := m.items[id]; ok && item.CycleCountID == countID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetCountForUpdate(ctx context.Context, id int64) (Count, error) {
	return m.GetCount(ctx, id)
}

func (m *memoryRepo) GetItemForUpdate(_ context.Context, id int64) (Item, error) {
	item, ok := m.items[id]
	if !ok {
		return Item{}, shared.NewNotFound("cycle_count_item", id)
	}
	return item, nil
}

func (m *memoryRepo) ListItems(ctx context.Context, countID int64) ([]Item, error) {
	return m.GetItems(ctx, countID)
}

func (m *memoryRepo) InsertCount(_ context.Context, c Count) (Count, error) {
	c.ID = m.nextCountID
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.nextCountID++
	m.counts[c.ID] = c
	return c, nil
}

func (m *memoryRepo) InsertItem(_ context.Context, item Item) (Item, error) {
	item.ID = m.nextItemID
	m.nextItemID++
	m.items[item.ID] = item
	return item, nil
}

func (m *memoryRepo) UpdateCountStatus(_ context.Context, id int64, status CountStatus) error {
	c, ok := m.counts[id]
	if !ok {
		return shared.NewNotFound("cycle_count", id)
	}
	c.Status = status
	m.counts[id] = c
	return nil
}

func (m *memoryRepo) UpdateItemSnapshot(_ context.Context, id int64, system decimal.Decimal, unitCost *decimal.Decimal) error {
	item := m.items[id]
	item.SystemQuantity = system
	item.UnitCost = unitCost
	m.items[id] = item
	return nil
}

func (m *memoryRepo) UpdateItemCount(_ context.Context, item Item) error {
	m.items[item.ID] = item
	return nil
}

func (m *memoryRepo) UpdateItemApproval(_ context.Context, id int64, status ItemStatus, adjustmentID *int64) error {
	item := m.items[id]
	item.Status = status
	item.AdjustmentTransactionID = adjustmentID
	m.items[id] = item
	return nil
}

func (m *memoryRepo) UpdateItemSkip(_ context.Context, id int64, reason string) error {
	item := m.items[id]
	item.Status = ItemSkipped
	item.SkipReason = &reason
	m.items[id] = item
	return nil
}

func (m *memoryRepo) LockMaterial(_ context.Context, materialID int64) error {
	if !m.materials[materialID] {
		return shared.NewNotFound("material", materialID)
	}
	return nil
}

func (m *memoryRepo) OnHand(_ context.Context, materialID int64, owner ledger.Owner, lotID *int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range m.entries {
		if e.MaterialID != materialID || e.Owner != owner {
			continue
		}
		if lotID != nil && (e.LotID == nil || *e.LotID != *lotID) {
			continue
		}
		sum = sum.Add(e.Quantity)
	}
	return sum, nil
}

func (m *memoryRepo) InsertLedgerEntry(_ context.Context, entry ledger.Entry) (ledger.Entry, error) {
	entry.ID = m.nextEntryID
	entry.CreatedAt = time.Now()
	m.nextEntryID++
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *memoryRepo) StandardCosts(_ context.Context, materialIDs []int64) (map[int64]*decimal.Decimal, error) {
	out := map[int64]*decimal.Decimal{}
	for _, id := range materialIDs {
		out[id] = m.costs[id]
	}
	return out, nil
}

type memorySequence struct {
	counter int
}

func (m *memorySequence) Next(_ context.Context, prefix string) (string, error) {
	m.counter++
	return fmt.Sprintf("%s-20260901-%04d", prefix, m.counter), nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, &memorySequence{}, nil)
}

func plannedCount(t *testing.T, svc *Service, materialIDs ...int64) Count {
	t.Helper()
	input := CreateInput{Owner: ledger.CompanyOwner()}
	for _, id := range materialIDs {
		input.Items = append(input.Items, ItemInput{MaterialID: id})
	}
	c, err := svc.CreateCount(context.Background(), input)
	require.NoError(t, err)
	return c
}

func TestComputeVariance(t *testing.T) {
	variance, percent, value := ComputeVariance(dec("50"), dec("47"), nil)
	require.True(t, variance.Equal(dec("-3")))
	require.True(t, percent.Equal(dec("-6")))
	require.Nil(t, value)

	cost := dec("2.5")
	variance, percent, value = ComputeVariance(dec("0"), dec("4"), &cost)
	require.True(t, variance.Equal(dec("4")))
	require.True(t, percent.Equal(dec("100")))
	require.NotNil(t, value)
	require.True(t, value.Equal(dec("10")))

	_, percent, _ = ComputeVariance(dec("0"), dec("0"), nil)
	require.True(t, percent.IsZero())
}

func TestStartCountSnapshotsSystemQuantity(t *testing.T) {
	repo := newMemoryRepo(1, 2)
	repo.seedStock(1, ledger.CompanyOwner(), dec("50"))
	repo.seedStock(2, ledger.CompanyOwner(), dec("7"))
	cost := dec("1.25")
	repo.costs[1] = &cost
	svc := newTestService(repo)
	ctx := context.Background()

	c := plannedCount(t, svc, 1, 2)
	require.Equal(t, CountPlanned, c.Status)
	require.Equal(t, "CC-20260901-0001", c.CountNumber)

	require.NoError(t, svc.StartCount(ctx, c.ID, 0))

	got, err := svc.GetCount(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, CountInProgress, got.Status)

	items, err := svc.GetItems(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.True(t, items[0].SystemQuantity.Equal(dec("50")))
	require.NotNil(t, items[0].UnitCost)
	require.True(t, items[1].SystemQuantity.Equal(dec("7")))
	require.Nil(t, items[1].UnitCost)

	// Starting twice is not allowed.
	require.Error(t, svc.StartCount(ctx, c.ID, 0))
}

func TestVarianceRoundTrip(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.seedStock(1, ledger.CompanyOwner(), dec("50"))
	svc := newTestService(repo)
	ctx := context.Background()

	c := plannedCount(t, svc, 1)
	require.NoError(t, svc.StartCount(ctx, c.ID, 0))

	items, err := svc.GetItems(ctx, c.ID)
	require.NoError(t, err)
	item, err := svc.RecordCount(ctx, items[0].ID, dec("47"), 0)
	require.NoError(t, err)
	require.Equal(t, ItemCounted, item.Status)
	require.True(t, item.Variance.Equal(dec("-3")))
	require.True(t, item.VariancePercent.Equal(dec("-6")))

	require.NoError(t, svc.CompleteCount(ctx, c.ID, 0))
	require.NoError(t, svc.ApproveCount(ctx, c.ID, nil, 0))

	// One ADJUSTMENT of -3; on-hand now matches the counted quantity.
	var adjustments []ledger.Entry
	for _, e := range repo.entries {
		if e.Type == ledger.EntryTypeAdjustment {
			adjustments = append(adjustments, e)
		}
	}
	require.Len(t, adjustments, 1)
	require.True(t, adjustments[0].Quantity.Equal(dec("-3")))
	require.Equal(t, ReferenceTypeCycleCount, adjustments[0].Reference.Type)

	onHand, err := repo.OnHand(ctx, 1, ledger.CompanyOwner(), nil)
	require.NoError(t, err)
	require.True(t, onHand.Equal(dec("47")))

	items, err = svc.GetItems(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, ItemAdjusted, items[0].Status)
	require.NotNil(t, items[0].AdjustmentTransactionID)

	got, err := svc.GetCount(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, CountApproved, got.Status)
}

func TestApproveRejectsAdjustmentBelowZero(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.seedStock(1, ledger.CompanyOwner(), dec("50"))
	svc := newTestService(repo)
	ctx := context.Background()

	c := plannedCount(t, svc, 1)
	require.NoError(t, svc.StartCount(ctx, c.ID, 0))
	items, err := svc.GetItems(ctx, c.ID)
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, items[0].ID, dec("0"), 0)
	require.NoError(t, err)

	// Stock moves between the snapshot and the approval: 45 of the 50
	// units are consumed, leaving only 5 on hand against a -50 variance.
	repo.consumeStock(1, ledger.CompanyOwner(), dec("45"))

	require.NoError(t, svc.CompleteCount(ctx, c.ID, 0))
	err = svc.ApproveCount(ctx, c.ID, nil, 0)
	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(1), insufficient.MaterialID)
	require.True(t, insufficient.OnHand.Equal(dec("5")))

	// The transaction rolled back: no adjustment was written and both
	// item and header keep their pre-approval state.
	for _, e := range repo.entries {
		require.NotEqual(t, ledger.EntryTypeAdjustment, e.Type)
	}
	items, err = svc.GetItems(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, ItemCounted, items[0].Status)
	got, err := svc.GetCount(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, CountPendingReview, got.Status)

	onHand, err := repo.OnHand(ctx, 1, ledger.CompanyOwner(), nil)
	require.NoError(t, err)
	require.True(t, onHand.Equal(dec("5")))
}

func TestLotLevelItemSnapshotsAndAdjustsLotQuantity(t *testing.T) {
	repo := newMemoryRepo(1)
	lot1, lot2 := int64(11), int64(12)
	repo.seedLotStock(1, ledger.CompanyOwner(), &lot1, dec("30"))
	repo.seedLotStock(1, ledger.CompanyOwner(), &lot2, dec("20"))
	svc := newTestService(repo)
	ctx := context.Background()

	c, err := svc.CreateCount(ctx, CreateInput{
		Owner: ledger.CompanyOwner(),
		Items: []ItemInput{{MaterialID: 1, LotID: &lot1}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.StartCount(ctx, c.ID, 0))

	items, err := svc.GetItems(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].SystemQuantity.Equal(dec("30")), "snapshot covers the lot, not the whole material")

	_, err = svc.RecordCount(ctx, items[0].ID, dec("28"), 0)
	require.NoError(t, err)
	require.NoError(t, svc.CompleteCount(ctx, c.ID, 0))
	require.NoError(t, svc.ApproveCount(ctx, c.ID, nil, 0))

	var adjustments []ledger.Entry
	for _, e := range repo.entries {
		if e.Type == ledger.EntryTypeAdjustment {
			adjustments = append(adjustments, e)
		}
	}
	require.Len(t, adjustments, 1)
	require.True(t, adjustments[0].Quantity.Equal(dec("-2")))
	require.NotNil(t, adjustments[0].LotID)
	require.Equal(t, lot1, *adjustments[0].LotID)

	lotOnHand, err := repo.OnHand(ctx, 1, ledger.CompanyOwner(), &lot1)
	require.NoError(t, err)
	require.True(t, lotOnHand.Equal(dec("28")))
	otherLot, err := repo.OnHand(ctx, 1, ledger.CompanyOwner(), &lot2)
	require.NoError(t, err)
	require.True(t, otherLot.Equal(dec("20")))
}

func TestRecountPreservesPreviousQuantity(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.seedStock(1, ledger.CompanyOwner(), dec("50"))
	svc := newTestService(repo)
	ctx := context.Background()

	c := plannedCount(t, svc, 1)
	require.NoError(t, svc.StartCount(ctx, c.ID, 0))
	items, err := svc.GetItems(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.RecordCount(ctx, items[0].ID, dec("47"), 0)
	require.NoError(t, err)

	item, err := svc.RecordCount(ctx, items[0].ID, dec("49"), 0)
	require.NoError(t, err)
	require.Equal(t, ItemRecounted, item.Status)
	require.Equal(t, 1, item.RecountNumber)
	require.NotNil(t, item.PreviousCountedQuantity)
	require.True(t, item.PreviousCountedQuantity.Equal(dec("47")))
	require.True(t, item.Variance.Equal(dec("-1")))
}

func TestZeroVarianceApprovesWithoutLedgerWrite(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.seedStock(1, ledger.CompanyOwner(), dec("50"))
	svc := newTestService(repo)
	ctx := context.Background()

	c := plannedCount(t, svc, 1)
	require.NoError(t, svc.StartCount(ctx, c.ID, 0))
	items, err := svc.GetItems(ctx, c.ID)
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, items[0].ID, dec("50"), 0)
	require.NoError(t, err)
	require.NoError(t, svc.CompleteCount(ctx, c.ID, 0))

	before := len(repo.entries)
	require.NoError(t, svc.ApproveCount(ctx, c.ID, nil, 0))
	require.Len(t, repo.entries, before, "zero variance must not write a ledger entry")

	items, err = svc.GetItems(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, ItemApproved, items[0].Status)
	require.Nil(t, items[0].AdjustmentTransactionID)
}

func TestCompleteRequiresAllItemsProcessed(t *testing.T) {
	repo := newMemoryRepo(1, 2)
	repo.seedStock(1, ledger.CompanyOwner(), dec("10"))
	svc := newTestService(repo)
	ctx := context.Background()

	c := plannedCount(t, svc, 1, 2)
	require.NoError(t, svc.StartCount(ctx, c.ID, 0))
	items, err := svc.GetItems(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.RecordCount(ctx, items[0].ID, dec("10"), 0)
	require.NoError(t, err)

	err = svc.CompleteCount(ctx, c.ID, 0)
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)

	// A skipped item counts as processed.
	require.NoError(t, svc.SkipItem(ctx, items[1].ID, "location inaccessible", 0))
	require.NoError(t, svc.CompleteCount(ctx, c.ID, 0))
}

func TestPartialApprovalKeepsHeaderPending(t *testing.T) {
	repo := newMemoryRepo(1, 2)
	repo.seedStock(1, ledger.CompanyOwner(), dec("10"))
	repo.seedStock(2, ledger.CompanyOwner(), dec("20"))
	svc := newTestService(repo)
	ctx := context.Background()

	c := plannedCount(t, svc, 1, 2)
	require.NoError(t, svc.StartCount(ctx, c.ID, 0))
	items, err := svc.GetItems(ctx, c.ID)
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, items[0].ID, dec("9"), 0)
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, items[1].ID, dec("20"), 0)
	require.NoError(t, err)
	require.NoError(t, svc.CompleteCount(ctx, c.ID, 0))

	require.NoError(t, svc.ApproveCount(ctx, c.ID, []int64{items[0].ID}, 0))
	got, err := svc.GetCount(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, CountPendingReview, got.Status, "header stays pending while items remain")

	require.NoError(t, svc.ApproveCount(ctx, c.ID, nil, 0))
	got, err = svc.GetCount(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, CountApproved, got.Status)
}

func TestCancelDisallowedAfterApproval(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.seedStock(1, ledger.CompanyOwner(), dec("10"))
	svc := newTestService(repo)
	ctx := context.Background()

	c := plannedCount(t, svc, 1)
	require.NoError(t, svc.CancelCount(ctx, c.ID, 0))

	c2 := plannedCount(t, svc, 1)
	require.NoError(t, svc.StartCount(ctx, c2.ID, 0))
	items, err := svc.GetItems(ctx, c2.ID)
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, items[0].ID, dec("10"), 0)
	require.NoError(t, err)
	require.NoError(t, svc.CompleteCount(ctx, c2.ID, 0))
	require.NoError(t, svc.ApproveCount(ctx, c2.ID, nil, 0))

	err = svc.CancelCount(ctx, c2.ID, 0)
	var invalid *shared.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestRecordCountOnlyWhileInProgress(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.seedStock(1, ledger.CompanyOwner(), dec("10"))
	svc := newTestService(repo)
	ctx := context.Background()

	c := plannedCount(t, svc, 1)
	items, err := svc.GetItems(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.RecordCount(ctx, items[0].ID, dec("10"), 0)
	var invalid *shared.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}
