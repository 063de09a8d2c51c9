package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"fulfillment_metrics_backend/internal/analytics/domain"
)

func intPtr(v int) *int { return &v }

func day(d int) time.Time {
	return time.Date(2024, 7, d, 0, 0, 0, 0, time.UTC)
}

func findRow(t *testing.T, rows []domain.DailyProductAggregate, date time.Time, productID uuid.UUID) domain.DailyProductAggregate {
	t.Helper()
	for _, r := range rows {
		if r.Date.Equal(date) && r.ProductID == productID {
			return r
		}
	}
	t.Fatalf("no row for (%v, %v)", date, productID)
	return domain.DailyProductAggregate{}
}

func TestAggregateSliceAverages(t *testing.T) {
	product := domain.Product{ID: uuid.New(), Name: "Widget", Category: "Tools", Subcategory: "Hand"}
	grid := Grid{Dates: []time.Time{day(1)}, Products: []domain.Product{product}}

	metrics := []domain.OrderMetric{
		{
			OrderID: uuid.New(), ProductID: product.ID, CreatedDate: day(1),
			DaysToPack: intPtr(3), DaysToDeliver: intPtr(10),
			IsUSCustomer: true, HasContractorSupport: true,
		},
		{
			OrderID: uuid.New(), ProductID: product.ID, CreatedDate: day(1),
			DaysToPack: intPtr(5), DaysToDeliver: intPtr(6),
		},
		{
			OrderID: uuid.New(), ProductID: product.ID, CreatedDate: day(1),
			DaysToPack: intPtr(3),
			IsUSCustomer: true,
		},
	}

	rows, err := Aggregate(context.Background(), grid, metrics, time.Now().UTC())
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	row := rows[0]

	if got, want := row.AvgDaysToPack, (3.0+5.0+3.0)/3.0; got != want {
		t.Fatalf("AvgDaysToPack = %v, want %v", got, want)
	}
	// Only two orders delivered; the third must not drag the average down.
	if got, want := row.AvgDaysToDeliver, 8.0; got != want {
		t.Fatalf("AvgDaysToDeliver = %v, want %v", got, want)
	}
	if got, want := row.AvgUSDaysToPack, 3.0; got != want {
		t.Fatalf("AvgUSDaysToPack = %v, want %v", got, want)
	}
	if got, want := row.AvgContractorDaysToDeliver, 10.0; got != want {
		t.Fatalf("AvgContractorDaysToDeliver = %v, want %v", got, want)
	}
	// No order has a ship duration, so every ship average is the zero default.
	if row.AvgDaysToShip != 0 || row.AvgUSDaysToShip != 0 || row.AvgContractorDaysToShip != 0 {
		t.Fatalf("ship averages = (%v, %v, %v), want zero defaults",
			row.AvgDaysToShip, row.AvgUSDaysToShip, row.AvgContractorDaysToShip)
	}
}

func TestAggregateGridCompleteness(t *testing.T) {
	productA := domain.Product{ID: uuid.New(), Name: "A"}
	productB := domain.Product{ID: uuid.New(), Name: "B"}
	grid := Grid{
		Dates:    []time.Time{day(1), day(2), day(3)},
		Products: []domain.Product{productA, productB},
	}

	// A single order on one cell; all other cells must still be emitted.
	metrics := []domain.OrderMetric{
		{OrderID: uuid.New(), ProductID: productA.ID, CreatedDate: day(2), DaysToPack: intPtr(4)},
	}

	computedAt := time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)
	rows, err := Aggregate(context.Background(), grid, metrics, computedAt)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if len(rows) != grid.Size() {
		t.Fatalf("got %d rows, want %d (one per grid cell)", len(rows), grid.Size())
	}

	hit := findRow(t, rows, day(2), productA.ID)
	if hit.AvgDaysToPack != 4 {
		t.Fatalf("AvgDaysToPack = %v, want 4", hit.AvgDaysToPack)
	}

	empty := findRow(t, rows, day(2), productB.ID)
	if empty.AvgDaysToPack != 0 || empty.AvgDaysToDeliver != 0 {
		t.Fatalf("empty cell carries non-zero averages: %+v", empty)
	}
	if empty.ProductName != "B" {
		t.Fatalf("empty cell product name = %q, want dimension attributes carried", empty.ProductName)
	}
	if !empty.ComputedAtUTC.Equal(computedAt) {
		t.Fatalf("ComputedAtUTC = %v, want %v", empty.ComputedAtUTC, computedAt)
	}
}

func TestAggregateDropsMetricsOutsideGrid(t *testing.T) {
	product := domain.Product{ID: uuid.New(), Name: "A"}
	grid := Grid{Dates: []time.Time{day(5)}, Products: []domain.Product{product}}

	metrics := []domain.OrderMetric{
		{OrderID: uuid.New(), ProductID: product.ID, CreatedDate: day(1), DaysToPack: intPtr(9)},
	}

	rows, err := Aggregate(context.Background(), grid, metrics, time.Now().UTC())
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].AvgDaysToPack != 0 {
		t.Fatalf("metric outside the grid window leaked into output: %+v", rows[0])
	}
}

func TestAggregateHonorsCancellation(t *testing.T) {
	product := domain.Product{ID: uuid.New()}
	grid := Grid{Dates: []time.Time{day(1), day(2)}, Products: []domain.Product{product}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Aggregate(ctx, grid, nil, time.Now().UTC()); err == nil {
		t.Fatal("expected context error from cancelled aggregation")
	}
}

func TestGridForEachVisitsEveryCellOnce(t *testing.T) {
	products := []domain.Product{{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()}}
	grid := Grid{Dates: []time.Time{day(1), day(2)}, Products: products}

	seen := make(map[groupKey]int)
	err := grid.ForEach(func(date time.Time, product domain.Product) error {
		seen[groupKey{date: date, productID: product.ID}]++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach returned error: %v", err)
	}
	if len(seen) != grid.Size() {
		t.Fatalf("visited %d distinct cells, want %d", len(seen), grid.Size())
	}
	for key, n := range seen {
		if n != 1 {
			t.Fatalf("cell %+v visited %d times", key, n)
		}
	}
}
