package mrp

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/volta-ems/volta/internal/allocation"
	"github.com/volta-ems/volta/internal/bom"
	"github.com/volta-ems/volta/internal/shared"
)

// DefaultDemandStatuses is the order status set shortages aggregate over
// when the caller does not narrow it.
var DefaultDemandStatuses = []string{"ENTERED", "KITTING", "SMT", "TH"}

// RepositoryPort abstracts the aggregate read queries.
type RepositoryPort interface {
	DemandLines(ctx context.Context, statuses []string) ([]DemandLine, error)
	OnHandBatch(ctx context.Context, materialIDs []int64) (map[int64]decimal.Decimal, error)
	ActiveAllocations(ctx context.Context, materialIDs []int64) ([]AllocationRow, error)
	OnOrderBatch(ctx context.Context, materialIDs []int64) (map[int64]decimal.Decimal, error)
}

// OrderSource resolves order facts for per-order reports.
type OrderSource interface {
	OrderForAllocation(ctx context.Context, orderID int64) (allocation.OrderInfo, error)
}

// BOMSource resolves the locked BOM lines of a revision.
type BOMSource interface {
	Lines(ctx context.Context, revisionID int64) ([]bom.Line, error)
}

// CachePort caches the shortage report between recomputations.
type CachePort interface {
	Get(ctx context.Context, key string) (ShortageReport, bool, error)
	Set(ctx context.Context, key string, report ShortageReport) error
}

// Service is the requirements engine.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	orders OrderSource
	boms   BOMSource
	cache  CachePort
}

// NewService builds Service. cache may be nil; the engine then always
// recomputes.
func NewService(logger *slog.Logger, repo RepositoryPort, orders OrderSource, boms BOMSource, cache CachePort) *Service {
	return &Service{logger: logger, repo: repo, orders: orders, boms: boms, cache: cache}
}

// RequirementsForOrder explodes the order's locked BOM revision into
// per-material requirements.
func (s *Service) RequirementsForOrder(ctx context.Context, orderID int64) (OrderRequirements, error) {
	order, err := s.orders.OrderForAllocation(ctx, orderID)
	if err != nil {
		return OrderRequirements{}, err
	}
	lines, err := s.boms.Lines(ctx, order.BOMRevisionID)
	if err != nil {
		return OrderRequirements{}, err
	}
	out := OrderRequirements{OrderID: orderID}
	for _, line := range lines {
		out.Lines = append(out.Lines, RequirementLine{
			MaterialID: line.MaterialID,
			Required:   bom.RequiredQuantity(order.Quantity, line),
		})
	}
	return out, nil
}

// Shortages nets aggregate demand across the given order statuses against
// effective supply (on-hand plus open purchase supply) and reports every
// material left short, largest shortage first. With refresh=false a cached
// report within its TTL is served as-is.
func (s *Service) Shortages(ctx context.Context, statuses []string, refresh bool) (ShortageReport, error) {
	if len(statuses) == 0 {
		statuses = DefaultDemandStatuses
	}
	key := cacheKey(statuses)
	if s.cache != nil && !refresh {
		if report, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.Warn("shortage cache read failed", slog.Any("error", err))
		} else if ok {
			return report, nil
		}
	}

	report, err := s.computeShortages(ctx, statuses)
	if err != nil {
		return ShortageReport{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, report); err != nil {
			s.logger.Warn("shortage cache write failed", slog.Any("error", err))
		}
	}
	return report, nil
}

func (s *Service) computeShortages(ctx context.Context, statuses []string) (ShortageReport, error) {
	demand, err := s.repo.DemandLines(ctx, statuses)
	if err != nil {
		return ShortageReport{}, err
	}
	report := ShortageReport{Statuses: statuses, GeneratedAt: time.Now().UTC()}
	if len(demand) == 0 {
		return report, nil
	}

	type materialDemand struct {
		required decimal.Decimal
		byOrder  map[int64]decimal.Decimal
		orderIDs []int64
	}
	perMaterial := map[int64]*materialDemand{}
	var materialIDs []int64
	for _, d := range demand {
		required := bom.RequiredQuantity(d.OrderQuantity, bom.Line{
			QuantityRequired:   d.QuantityRequired,
			ScrapFactorPercent: d.ScrapFactorPercent,
		})
		md, ok := perMaterial[d.MaterialID]
		if !ok {
			md = &materialDemand{required: decimal.Zero, byOrder: map[int64]decimal.Decimal{}}
			perMaterial[d.MaterialID] = md
			materialIDs = append(materialIDs, d.MaterialID)
		}
		md.required = md.required.Add(required)
		if _, seen := md.byOrder[d.OrderID]; !seen {
			md.orderIDs = append(md.orderIDs, d.OrderID)
		}
		md.byOrder[d.OrderID] = md.byOrder[d.OrderID].Add(required)
	}

	onHand, onOrder, allocations, err := s.supplySnapshot(ctx, materialIDs)
	if err != nil {
		return ShortageReport{}, err
	}
	allocated := map[int64]map[int64]decimal.Decimal{}
	for _, a := range allocations {
		if allocated[a.MaterialID] == nil {
			allocated[a.MaterialID] = map[int64]decimal.Decimal{}
		}
		allocated[a.MaterialID][a.OrderID] = a.Quantity
	}

	for _, materialID := range materialIDs {
		md := perMaterial[materialID]
		supply := onHand[materialID].Add(onOrder[materialID])
		short := md.required.Sub(supply)
		if !short.IsPositive() {
			continue
		}
		entry := Shortage{
			MaterialID: materialID,
			Required:   md.required,
			OnHand:     onHand[materialID],
			OnOrder:    onOrder[materialID],
			Shortage:   short,
		}
		for _, orderID := range md.orderIDs {
			entry.Orders = append(entry.Orders, OrderContribution{
				OrderID:   orderID,
				Required:  md.byOrder[orderID],
				Allocated: allocated[materialID][orderID],
			})
		}
		report.Shortages = append(report.Shortages, entry)
	}
	sort.Slice(report.Shortages, func(i, j int) bool {
		a, b := report.Shortages[i], report.Shortages[j]
		if !a.Shortage.Equal(b.Shortage) {
			return a.Shortage.GreaterThan(b.Shortage)
		}
		return a.MaterialID < b.MaterialID
	})
	return report, nil
}

// OrderAvailability reports per-line coverage for one order. A line can
// fulfill when free stock plus its own existing reservation plus open
// purchase supply covers the requirement.
func (s *Service) OrderAvailability(ctx context.Context, orderID int64) (OrderAvailability, error) {
	requirements, err := s.RequirementsForOrder(ctx, orderID)
	if err != nil {
		return OrderAvailability{}, err
	}
	if len(requirements.Lines) == 0 {
		return OrderAvailability{}, shared.NewValidation("bom", "order has no BOM lines")
	}
	materialIDs := make([]int64, 0, len(requirements.Lines))
	for _, line := range requirements.Lines {
		materialIDs = append(materialIDs, line.MaterialID)
	}

	onHand, onOrder, allocations, err := s.supplySnapshot(ctx, materialIDs)
	if err != nil {
		return OrderAvailability{}, err
	}
	totalAllocated := map[int64]decimal.Decimal{}
	ownAllocated := map[int64]decimal.Decimal{}
	for _, a := range allocations {
		totalAllocated[a.MaterialID] = totalAllocated[a.MaterialID].Add(a.Quantity)
		if a.OrderID == orderID {
			ownAllocated[a.MaterialID] = ownAllocated[a.MaterialID].Add(a.Quantity)
		}
	}

	out := OrderAvailability{OrderID: orderID}
	fulfillable := 0
	for _, line := range requirements.Lines {
		free := onHand[line.MaterialID].Sub(totalAllocated[line.MaterialID])
		effective := free.Add(ownAllocated[line.MaterialID]).Add(onOrder[line.MaterialID])
		can := effective.GreaterThanOrEqual(line.Required)
		if can {
			fulfillable++
		}
		out.Lines = append(out.Lines, AvailabilityLine{
			MaterialID:         line.MaterialID,
			Required:           line.Required,
			EffectiveAvailable: effective,
			CanFulfill:         can,
		})
	}
	switch fulfillable {
	case len(out.Lines):
		out.Status = FullyAvailable
	case 0:
		out.Status = NotAvailable
	default:
		out.Status = PartiallyAvailable
	}
	return out, nil
}

// supplySnapshot loads the three supply-side aggregates concurrently. The
// queries are independent reads against the pool.
func (s *Service) supplySnapshot(ctx context.Context, materialIDs []int64) (map[int64]decimal.Decimal, map[int64]decimal.Decimal, []AllocationRow, error) {
	var (
		onHand      map[int64]decimal.Decimal
		onOrder     map[int64]decimal.Decimal
		allocations []AllocationRow
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		onHand, err = s.repo.OnHandBatch(ctx, materialIDs)
		return err
	})
	g.Go(func() error {
		var err error
		onOrder, err = s.repo.OnOrderBatch(ctx, materialIDs)
		return err
	})
	g.Go(func() error {
		var err error
		allocations, err = s.repo.ActiveAllocations(ctx, materialIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return onHand, onOrder, allocations, nil
}

func cacheKey(statuses []string) string {
	sorted := append([]string(nil), statuses...)
	sort.Strings(sorted)
	return "mrp:shortages:" + strings.Join(sorted, ",")
}
