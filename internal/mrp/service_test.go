package mrp

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/volta-ems/volta/internal/allocation"
	"github.com/volta-ems/volta/internal/bom"
	"github.com/volta-ems/volta/internal/shared"
)

type memoryRepo struct {
	demand      []DemandLine
	onHand      map[int64]decimal.Decimal
	onOrder     map[int64]decimal.Decimal
	allocations []AllocationRow
	demandCalls int
}

func (m *memoryRepo) DemandLines(_ context.Context, _ []string) ([]DemandLine, error) {
	m.demandCalls++
	return m.demand, nil
}

func (m *memoryRepo) OnHandBatch(_ context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	out := map[int64]decimal.Decimal{}
	for _, id := range ids {
		if v, ok := m.onHand[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (m *memoryRepo) ActiveAllocations(_ context.Context, _ []int64) ([]AllocationRow, error) {
	return m.allocations, nil
}

func (m *memoryRepo) OnOrderBatch(_ context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	out := map[int64]decimal.Decimal{}
	for _, id := range ids {
		if v, ok := m.onOrder[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type memoryOrders struct {
	orders map[int64]allocation.OrderInfo
}

func (m *memoryOrders) OrderForAllocation(_ context.Context, orderID int64) (allocation.OrderInfo, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return allocation.OrderInfo{}, shared.NewNotFound("order", orderID)
	}
	return o, nil
}

type memoryBOMs struct {
	lines map[int64][]bom.Line
}

func (m *memoryBOMs) Lines(_ context.Context, revisionID int64) ([]bom.Line, error) {
	return m.lines[revisionID], nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRequirementsForOrderRoundsUp(t *testing.T) {
	orders := &memoryOrders{orders: map[int64]allocation.OrderInfo{
		10: {ID: 10, Quantity: dec("100"), BOMRevisionID: 5},
	}}
	boms := &memoryBOMs{lines: map[int64][]bom.Line{
		5: {{MaterialID: 1, QuantityRequired: dec("2.5"), ScrapFactorPercent: dec("3")}},
	}}
	svc := NewService(testLogger(), &memoryRepo{}, orders, boms, nil)

	requirements, err := svc.RequirementsForOrder(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, requirements.Lines, 1)
	require.True(t, requirements.Lines[0].Required.Equal(dec("257.5")), "got %s", requirements.Lines[0].Required)
}

func TestShortagesNetsSupply(t *testing.T) {
	repo := &memoryRepo{
		demand: []DemandLine{
			{OrderID: 10, MaterialID: 1, OrderQuantity: dec("10"), QuantityRequired: dec("2")},
			{OrderID: 11, MaterialID: 2, OrderQuantity: dec("5"), QuantityRequired: dec("1")},
		},
		onHand:  map[int64]decimal.Decimal{1: dec("10"), 2: dec("100")},
		onOrder: map[int64]decimal.Decimal{1: dec("5")},
		allocations: []AllocationRow{
			{MaterialID: 1, OrderID: 10, Quantity: dec("8")},
		},
	}
	svc := NewService(testLogger(), repo, nil, nil, nil)

	report, err := svc.Shortages(context.Background(), nil, false)
	require.NoError(t, err)
	require.Equal(t, DefaultDemandStatuses, report.Statuses)

	// Material 1: required 20, on hand 10, on order 5, short 5.
	// Material 2: required 5 against 100 on hand, not short.
	require.Len(t, report.Shortages, 1)
	entry := report.Shortages[0]
	require.Equal(t, int64(1), entry.MaterialID)
	require.True(t, entry.Shortage.Equal(dec("5")))
	require.True(t, entry.Required.Equal(dec("20")))
	require.Len(t, entry.Orders, 1)
	require.Equal(t, int64(10), entry.Orders[0].OrderID)
	require.True(t, entry.Orders[0].Allocated.Equal(dec("8")))
}

func TestShortagesSortedDescending(t *testing.T) {
	repo := &memoryRepo{
		demand: []DemandLine{
			{OrderID: 10, MaterialID: 1, OrderQuantity: dec("10"), QuantityRequired: dec("1")},
			{OrderID: 10, MaterialID: 2, OrderQuantity: dec("10"), QuantityRequired: dec("10")},
		},
		onHand: map[int64]decimal.Decimal{},
	}
	svc := NewService(testLogger(), repo, nil, nil, nil)

	report, err := svc.Shortages(context.Background(), nil, false)
	require.NoError(t, err)
	require.Len(t, report.Shortages, 2)
	require.Equal(t, int64(2), report.Shortages[0].MaterialID)
	require.True(t, report.Shortages[0].Shortage.Equal(dec("100")))
	require.Equal(t, int64(1), report.Shortages[1].MaterialID)
}

func availabilityFixture(onHand map[int64]decimal.Decimal, allocations []AllocationRow) *Service {
	repo := &memoryRepo{onHand: onHand, allocations: allocations, onOrder: map[int64]decimal.Decimal{}}
	orders := &memoryOrders{orders: map[int64]allocation.OrderInfo{
		10: {ID: 10, Quantity: dec("10"), BOMRevisionID: 5},
	}}
	boms := &memoryBOMs{lines: map[int64][]bom.Line{
		5: {
			{MaterialID: 1, QuantityRequired: dec("2")},
			{MaterialID: 2, QuantityRequired: dec("3")},
		},
	}}
	return NewService(testLogger(), repo, orders, boms, nil)
}

func TestOrderAvailabilityStatuses(t *testing.T) {
	ctx := context.Background()

	full := availabilityFixture(map[int64]decimal.Decimal{1: dec("20"), 2: dec("30")}, nil)
	report, err := full.OrderAvailability(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, FullyAvailable, report.Status)

	partial := availabilityFixture(map[int64]decimal.Decimal{1: dec("20"), 2: dec("5")}, nil)
	report, err = partial.OrderAvailability(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, PartiallyAvailable, report.Status)
	require.True(t, report.Lines[0].CanFulfill)
	require.False(t, report.Lines[1].CanFulfill)

	none := availabilityFixture(map[int64]decimal.Decimal{}, nil)
	report, err = none.OrderAvailability(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, NotAvailable, report.Status)
}

func TestOrderAvailabilityCountsOwnReservation(t *testing.T) {
	// 20 on hand for material 1, all of it reserved for order 10 itself;
	// the line is still fulfillable. Material 2 has its stock reserved by a
	// different order and stays short.
	svc := availabilityFixture(
		map[int64]decimal.Decimal{1: dec("20"), 2: dec("30")},
		[]AllocationRow{
			{MaterialID: 1, OrderID: 10, Quantity: dec("20")},
			{MaterialID: 2, OrderID: 99, Quantity: dec("30")},
		},
	)
	report, err := svc.OrderAvailability(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, report.Lines[0].CanFulfill)
	require.False(t, report.Lines[1].CanFulfill)
	require.Equal(t, PartiallyAvailable, report.Status)
}

func TestShortagesServedFromCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := NewShortageCache(client, 0)

	repo := &memoryRepo{
		demand: []DemandLine{
			{OrderID: 10, MaterialID: 1, OrderQuantity: dec("10"), QuantityRequired: dec("2")},
		},
		onHand: map[int64]decimal.Decimal{},
	}
	svc := NewService(testLogger(), repo, nil, nil, cache)
	ctx := context.Background()

	first, err := svc.Shortages(ctx, nil, false)
	require.NoError(t, err)
	require.Len(t, first.Shortages, 1)
	require.Equal(t, 1, repo.demandCalls)

	second, err := svc.Shortages(ctx, nil, false)
	require.NoError(t, err)
	require.Len(t, second.Shortages, 1)
	require.Equal(t, 1, repo.demandCalls, "second read must come from the cache")

	_, err = svc.Shortages(ctx, nil, true)
	require.NoError(t, err)
	require.Equal(t, 2, repo.demandCalls, "refresh must bypass the cache")

	// Expired entries force a recomputation.
	srv.FastForward(NewShortageCache(client, 0).ttl * 2)
	_, err = svc.Shortages(ctx, nil, false)
	require.NoError(t, err)
	require.Equal(t, 3, repo.demandCalls)
}
