package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fulfillment_metrics_backend/internal/analytics/domain"
)

// avgAcc accumulates one running average. An empty accumulator yields zero,
// which is how "no contributing orders" is represented in the output.
type avgAcc struct {
	sum float64
	n   int
}

func (a *avgAcc) add(days *int) {
	if days == nil {
		return
	}
	a.sum += float64(*days)
	a.n++
}

func (a avgAcc) value() float64 {
	if a.n == 0 {
		return 0
	}
	return a.sum / float64(a.n)
}

// groupAcc accumulates the nine averages of one (date, product) group:
// three slices (overall, US customer, contractor involved) times three
// stage durations. Undefined durations are skipped per accumulator, so an
// order missing its shipped event still contributes its pack and deliver
// durations.
type groupAcc struct {
	pack, ship, deliver                avgAcc
	usPack, usShip, usDeliver          avgAcc
	contrPack, contrShip, contrDeliver avgAcc
}

func (g *groupAcc) add(m domain.OrderMetric) {
	g.pack.add(m.DaysToPack)
	g.ship.add(m.DaysToShip)
	g.deliver.add(m.DaysToDeliver)

	if m.IsUSCustomer {
		g.usPack.add(m.DaysToPack)
		g.usShip.add(m.DaysToShip)
		g.usDeliver.add(m.DaysToDeliver)
	}

	if m.HasContractorSupport {
		g.contrPack.add(m.DaysToPack)
		g.contrShip.add(m.DaysToShip)
		g.contrDeliver.add(m.DaysToDeliver)
	}
}

type groupKey struct {
	date      time.Time
	productID uuid.UUID
}

// Aggregate groups order metrics by (creation date, product) and joins the
// results onto the grid, emitting exactly one row per grid cell. Cells with
// no matching orders carry zero-valued averages. Metrics outside the grid's
// keyspace are dropped, matching a left join from the grid side.
func Aggregate(ctx context.Context, grid Grid, metrics []domain.OrderMetric, computedAt time.Time) ([]domain.DailyProductAggregate, error) {
	groups := make(map[groupKey]*groupAcc)
	for _, m := range metrics {
		key := groupKey{date: m.CreatedDate, productID: m.ProductID}
		acc := groups[key]
		if acc == nil {
			acc = &groupAcc{}
			groups[key] = acc
		}
		acc.add(m)
	}

	rows := make([]domain.DailyProductAggregate, 0, grid.Size())
	err := grid.ForEach(func(date time.Time, product domain.Product) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		row := domain.DailyProductAggregate{
			Date:               date,
			ProductID:          product.ID,
			ProductName:        product.Name,
			ProductCategory:    product.Category,
			ProductSubcategory: product.Subcategory,
			ComputedAtUTC:      computedAt,
		}

		if acc, ok := groups[groupKey{date: date, productID: product.ID}]; ok {
			row.AvgDaysToPack = acc.pack.value()
			row.AvgDaysToShip = acc.ship.value()
			row.AvgDaysToDeliver = acc.deliver.value()
			row.AvgUSDaysToPack = acc.usPack.value()
			row.AvgUSDaysToShip = acc.usShip.value()
			row.AvgUSDaysToDeliver = acc.usDeliver.value()
			row.AvgContractorDaysToPack = acc.contrPack.value()
			row.AvgContractorDaysToShip = acc.contrShip.value()
			row.AvgContractorDaysToDeliver = acc.contrDeliver.value()
		}

		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
