package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/volta-ems/volta/internal/shared"
)

type memoryRepo struct {
	nextID      int64
	orders      map[int64]Order
	allocations map[int64]int // order id -> active allocation count
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, orders: map[int64]Order{}, allocations: map[int64]int{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Order, len(m.orders))
	for k, v := range m.orders {
		snapshot[k] = v
	}
	allocSnap := make(map[int64]int, len(m.allocations))
	for k, v := range m.allocations {
		allocSnap[k] = v
	}
	id := m.nextID
	if err := fn(ctx, m); err != nil {
		m.orders = snapshot
		m.allocations = allocSnap
		m.nextID = id
		return err
	}
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return Order{}, shared.NewNotFound("order", id)
	}
	return o, nil
}

func (m *memoryRepo) List(_ context.Context, filter Filter) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		if filter.CustomerID != 0 && o.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *memoryRepo) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	return m.Get(ctx, id)
}

func (m *memoryRepo) Insert(_ context.Context, o Order) (Order, error) {
	o.ID = m.nextID
	o.Version = 1
	o.QuantityShipped = decimal.Zero
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	m.nextID++
	m.orders[o.ID] = o
	return o, nil
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id, expectedVersion int64, status Status, previous *Status) error {
	o, ok := m.orders[id]
	if !ok || o.Version != expectedVersion {
		return &shared.ConflictError{Reason: "order changed concurrently", OrderID: id}
	}
	o.Status = status
	o.PreviousStatus = previous
	o.Version++
	m.orders[id] = o
	return nil
}

func (m *memoryRepo) UpdateShipped(_ context.Context, id, expectedVersion int64, shipped decimal.Decimal, status Status) error {
	o, ok := m.orders[id]
	if !ok || o.Version != expectedVersion {
		return &shared.ConflictError{Reason: "order changed concurrently", OrderID: id}
	}
	o.QuantityShipped = shipped
	o.Status = status
	o.Version++
	m.orders[id] = o
	return nil
}

func (m *memoryRepo) CancelAllocations(_ context.Context, orderID int64) (int, error) {
	n := m.allocations[orderID]
	m.allocations[orderID] = 0
	return n, nil
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

func createOrder(t *testing.T, svc *Service, orderType OrderType) Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateInput{
		CustomerID:    7,
		ProductID:     3,
		BOMRevisionID: 5,
		Quantity:      dec("100"),
		Type:          orderType,
	})
	require.NoError(t, err)
	return o
}

func TestCreateAssignsNumberAndEnteredStatus(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	o := createOrder(t, svc, TypeTurnkey)
	require.Equal(t, StatusEntered, o.Status)
	require.Equal(t, "SO-20260901-0001", o.OrderNumber)
	require.True(t, o.Balance().Equal(dec("100")))
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{CustomerID: 7, ProductID: 3, BOMRevisionID: 5, Quantity: dec("1"), Type: "PREPAID"})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = svc.Create(ctx, CreateInput{CustomerID: 7, ProductID: 3, BOMRevisionID: 5, Quantity: decimal.Zero, Type: TypeTurnkey})
	require.ErrorAs(t, err, &validation)
}

func transitionPath(t *testing.T, svc *Service, id int64, path ...Status) Order {
	t.Helper()
	var o Order
	var err error
	for _, s := range path {
		o, err = svc.Transition(context.Background(), id, s, 0)
		require.NoError(t, err, "transition to %s", s)
	}
	return o
}

func TestTransitionFollowsTable(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	o := createOrder(t, svc, TypeTurnkey)

	// Skipping KITTING is not allowed.
	_, err := svc.Transition(ctx, o.ID, StatusSMT, 0)
	var invalid *shared.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	got := transitionPath(t, svc, o.ID, StatusKitting, StatusSMT, StatusTH, StatusShipped)
	require.Equal(t, StatusShipped, got.Status)

	// SHIPPED is terminal.
	_, err = svc.Transition(ctx, o.ID, StatusKitting, 0)
	require.ErrorAs(t, err, &invalid)
}

func TestOnHoldResumesOnlyToSnapshot(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	o := createOrder(t, svc, TypeTurnkey)
	transitionPath(t, svc, o.ID, StatusKitting, StatusSMT)

	held, err := svc.Transition(ctx, o.ID, StatusOnHold, 0)
	require.NoError(t, err)
	require.NotNil(t, held.PreviousStatus)
	require.Equal(t, StatusSMT, *held.PreviousStatus)

	// Resuming to a different status fails even though ON_HOLD -> TH is in
	// the table shape.
	_, err = svc.Transition(ctx, o.ID, StatusTH, 0)
	var invalid *shared.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	resumed, err := svc.Transition(ctx, o.ID, StatusSMT, 0)
	require.NoError(t, err)
	require.Equal(t, StatusSMT, resumed.Status)
	require.Nil(t, resumed.PreviousStatus)
}

func TestCancelReleasesAllocations(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	o := createOrder(t, svc, TypeTurnkey)
	repo.allocations[o.ID] = 3

	got, err := svc.Transition(ctx, o.ID, StatusCancelled, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
	require.Zero(t, repo.allocations[o.ID])
}

func TestCancelNotAllowedFromProduction(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	o := createOrder(t, svc, TypeTurnkey)
	transitionPath(t, svc, o.ID, StatusKitting, StatusSMT)

	_, err := svc.Transition(ctx, o.ID, StatusCancelled, 0)
	var invalid *shared.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestShipQuantityAutoPromotes(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	o := createOrder(t, svc, TypeTurnkey)

	// Shipping from ENTERED is rejected.
	_, err := svc.ShipQuantity(ctx, o.ID, dec("10"), 0)
	var invalid *shared.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	transitionPath(t, svc, o.ID, StatusKitting, StatusSMT)

	got, err := svc.ShipQuantity(ctx, o.ID, dec("40"), 0)
	require.NoError(t, err)
	require.Equal(t, StatusShipped, got.Status)
	require.True(t, got.Balance().Equal(dec("60")))

	// Further partial shipments stay in SHIPPED.
	got, err = svc.ShipQuantity(ctx, o.ID, dec("60"), 0)
	require.NoError(t, err)
	require.True(t, got.Balance().IsZero())

	// Overshipping would drive the balance negative.
	_, err = svc.ShipQuantity(ctx, o.ID, dec("1"), 0)
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestOrderForAllocationDerivesOwner(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	turnkey := createOrder(t, svc, TypeTurnkey)
	info, err := svc.OrderForAllocation(ctx, turnkey.ID)
	require.NoError(t, err)
	require.Equal(t, "COMPANY", string(info.Owner.Type))
	require.Equal(t, int64(5), info.BOMRevisionID)

	consignment := createOrder(t, svc, TypeConsignment)
	info, err = svc.OrderForAllocation(ctx, consignment.ID)
	require.NoError(t, err)
	require.Equal(t, "CUSTOMER", string(info.Owner.Type))
	require.Equal(t, int64(7), info.Owner.CustomerID)

	_, err = svc.Transition(ctx, consignment.ID, StatusCancelled, 0)
	require.NoError(t, err)
	_, err = svc.OrderForAllocation(ctx, consignment.ID)
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
}
