package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"fulfillment_metrics_backend/internal/analytics/domain"
	"fulfillment_metrics_backend/internal/analytics/repository"
	"fulfillment_metrics_backend/platform/logger"
)

type fakeCfg struct {
	spineStart  time.Time
	lookback    time.Duration
	concurrency int
}

func (c fakeCfg) GetSpineStartDate() time.Time      { return c.spineStart }
func (c fakeCfg) GetRefreshLookback() time.Duration { return c.lookback }
func (c fakeCfg) GetDeriveConcurrency() int         { return c.concurrency }

// fakeRepo is an in-memory Repository double recording the calls the refresh
// pipeline makes.
type fakeRepo struct {
	products  []domain.Product
	agents    []domain.Agent
	customers []domain.Customer
	orders    []domain.Order
	events    []domain.FulfillmentEvent
	orphans   int
	lastRun   *repository.RefreshRun

	ordersSince    *time.Time
	ordersSinceSet bool
	orphanSince    *time.Time
	spineFrom      time.Time
	spineTo        time.Time

	begun     *repository.RefreshRun
	completed *repository.RefreshRun
	rows      []domain.DailyProductAggregate
	failedID  uuid.UUID
	failedMsg string

	beginErr    error
	completeErr error
}

func (r *fakeRepo) ListProducts(context.Context) ([]domain.Product, error)   { return r.products, nil }
func (r *fakeRepo) ListAgents(context.Context) ([]domain.Agent, error)       { return r.agents, nil }
func (r *fakeRepo) ListCustomers(context.Context) ([]domain.Customer, error) { return r.customers, nil }

func (r *fakeRepo) ListOrdersCreatedSince(_ context.Context, since *time.Time) ([]domain.Order, error) {
	r.ordersSince = since
	r.ordersSinceSet = true
	if since == nil {
		return r.orders, nil
	}
	var out []domain.Order
	for _, o := range r.orders {
		if !o.CreatedAt.Before(*since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListEventsForOrders(_ context.Context, orderIDs []uuid.UUID) ([]domain.FulfillmentEvent, error) {
	wanted := make(map[uuid.UUID]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = struct{}{}
	}
	var out []domain.FulfillmentEvent
	for _, e := range r.events {
		if _, ok := wanted[e.OrderID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRepo) CountOrphanEvents(_ context.Context, since *time.Time) (int, error) {
	r.orphanSince = since
	return r.orphans, nil
}

func (r *fakeRepo) EnsureDateSpine(_ context.Context, start, end time.Time) error {
	r.spineFrom = start
	r.spineTo = end
	return nil
}

func (r *fakeRepo) ListSpineDates(_ context.Context, from, to time.Time) ([]time.Time, error) {
	var dates []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates, nil
}

func (r *fakeRepo) LastSucceededRun(context.Context) (*repository.RefreshRun, error) {
	return r.lastRun, nil
}

func (r *fakeRepo) BeginRun(_ context.Context, run repository.RefreshRun) error {
	if r.beginErr != nil {
		return r.beginErr
	}
	r.begun = &run
	return nil
}

func (r *fakeRepo) CompleteRun(_ context.Context, run repository.RefreshRun, rows []domain.DailyProductAggregate) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	r.completed = &run
	r.rows = rows
	return nil
}

func (r *fakeRepo) FailRun(_ context.Context, runID uuid.UUID, reason string) error {
	r.failedID = runID
	r.failedMsg = reason
	return nil
}

func (r *fakeRepo) ListAggregates(context.Context, repository.ListAggregatesParams) ([]domain.DailyProductAggregate, int, error) {
	return nil, 0, nil
}

func (r *fakeRepo) ListRuns(context.Context, int) ([]repository.RefreshRun, error) {
	return nil, nil
}

var _ repository.Repository = (*fakeRepo)(nil)

func newTestService(repo *fakeRepo, cfg fakeCfg, now time.Time) *Service {
	svc := New(repo, cfg, logger.New("test"), nil)
	svc.now = func() time.Time { return now }
	return svc
}

func TestRefreshFullRebuildWithoutPriorRun(t *testing.T) {
	now := time.Date(2024, 7, 10, 14, 0, 0, 0, time.UTC)
	spineStart := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	product := domain.Product{ID: uuid.New(), Name: "Widget"}
	customer := domain.Customer{ID: uuid.New(), Country: domain.USCountry}
	agent := domain.Agent{ID: uuid.New(), IsContractor: true}

	order := domain.Order{
		ID: uuid.New(), ProductID: product.ID, CustomerID: customer.ID,
		CreatedAt: time.Date(2024, 7, 3, 8, 0, 0, 0, time.UTC),
	}

	repo := &fakeRepo{
		products:  []domain.Product{product},
		customers: []domain.Customer{customer},
		agents:    []domain.Agent{agent},
		orders:    []domain.Order{order},
		events: []domain.FulfillmentEvent{
			{ID: 1, OrderID: order.ID, Stage: domain.StagePackaged, OccurredAt: order.CreatedAt.AddDate(0, 0, 1), AgentID: agent.ID},
			{ID: 2, OrderID: order.ID, Stage: domain.StageShipped, OccurredAt: order.CreatedAt.AddDate(0, 0, 2), AgentID: agent.ID},
			{ID: 3, OrderID: order.ID, Stage: domain.StageDelivered, OccurredAt: order.CreatedAt.AddDate(0, 0, 4), AgentID: agent.ID},
		},
	}

	svc := newTestService(repo, fakeCfg{spineStart: spineStart, lookback: 72 * time.Hour, concurrency: 4}, now)

	result, err := svc.Refresh(context.Background(), RefreshParams{})
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if !result.FullRebuild {
		t.Fatal("first run must be a full rebuild")
	}
	if !repo.ordersSinceSet || repo.ordersSince != nil {
		t.Fatalf("orders cutoff = %v, want nil for full rebuild", repo.ordersSince)
	}
	if result.OrdersProcessed != 1 {
		t.Fatalf("OrdersProcessed = %d, want 1", result.OrdersProcessed)
	}
	// 10 spine days (Jul 1-10) times one product.
	if result.RowsUpserted != 10 {
		t.Fatalf("RowsUpserted = %d, want 10", result.RowsUpserted)
	}
	if result.Watermark == nil || !result.Watermark.Equal(order.CreatedAt) {
		t.Fatalf("watermark = %v, want newest order creation %v", result.Watermark, order.CreatedAt)
	}
	if repo.completed == nil || repo.completed.ID != repo.begun.ID {
		t.Fatalf("CompleteRun not called for the begun run: %+v", repo.completed)
	}
	if !repo.spineFrom.Equal(spineStart) || !repo.spineTo.Equal(domain.DateOf(now)) {
		t.Fatalf("spine extended over [%v, %v], want [%v, %v]", repo.spineFrom, repo.spineTo, spineStart, domain.DateOf(now))
	}

	row := repo.rows[2] // Jul 3
	if !row.Date.Equal(domain.DateOf(order.CreatedAt)) {
		t.Fatalf("row[2].Date = %v, want %v", row.Date, domain.DateOf(order.CreatedAt))
	}
	if row.AvgDaysToPack != 1 || row.AvgDaysToShip != 1 || row.AvgDaysToDeliver != 4 {
		t.Fatalf("averages = (%v, %v, %v), want (1, 1, 4)", row.AvgDaysToPack, row.AvgDaysToShip, row.AvgDaysToDeliver)
	}
	if row.AvgUSDaysToDeliver != 4 || row.AvgContractorDaysToDeliver != 4 {
		t.Fatalf("slice averages = (%v, %v), want (4, 4)", row.AvgUSDaysToDeliver, row.AvgContractorDaysToDeliver)
	}
}

func TestRefreshIncrementalWindowAppliesLookback(t *testing.T) {
	now := time.Date(2024, 7, 10, 14, 0, 0, 0, time.UTC)
	spineStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	watermark := time.Date(2024, 7, 8, 6, 0, 0, 0, time.UTC)
	lookback := 72 * time.Hour

	repo := &fakeRepo{
		lastRun: &repository.RefreshRun{
			ID:        uuid.New(),
			Status:    repository.RunStatusSucceeded,
			Watermark: &watermark,
		},
	}

	svc := newTestService(repo, fakeCfg{spineStart: spineStart, lookback: lookback, concurrency: 4}, now)

	result, err := svc.Refresh(context.Background(), RefreshParams{})
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if result.FullRebuild {
		t.Fatal("run with a prior watermark must not be a full rebuild")
	}
	// The cutoff is day-aligned: Jul 8 06:00 minus 72h lands mid-day on
	// Jul 5, and the pull starts at that day's midnight.
	wantCutoff := domain.DateOf(watermark.Add(-lookback))
	if repo.ordersSince == nil || !repo.ordersSince.Equal(wantCutoff) {
		t.Fatalf("orders cutoff = %v, want start of lookback day %v", repo.ordersSince, wantCutoff)
	}
	if repo.orphanSince == nil || !repo.orphanSince.Equal(wantCutoff) {
		t.Fatalf("orphan count window = %v, want %v", repo.orphanSince, wantCutoff)
	}
	// Empty window: the watermark must hold, not regress or clear.
	if result.Watermark == nil || !result.Watermark.Equal(watermark) {
		t.Fatalf("watermark = %v, want unchanged %v", result.Watermark, watermark)
	}
	// Grid restricted to the window: Jul 5 (cutoff day) through Jul 10.
	if result.RowsUpserted != 0 {
		t.Fatalf("RowsUpserted = %d, want 0 with no products", result.RowsUpserted)
	}
	if got, want := len(repo.rows), 0; got != want {
		t.Fatalf("merged %d rows, want %d", got, want)
	}
}

func TestRefreshAnomalyAccounting(t *testing.T) {
	now := time.Date(2024, 7, 2, 12, 0, 0, 0, time.UTC)
	spineStart := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	product := domain.Product{ID: uuid.New()}
	customer := domain.Customer{ID: uuid.New(), Country: "Canada"}

	goodNoEvents := domain.Order{ID: uuid.New(), ProductID: product.ID, CustomerID: customer.ID, CreatedAt: now.AddDate(0, 0, -1)}
	badProduct := domain.Order{ID: uuid.New(), ProductID: uuid.New(), CustomerID: customer.ID, CreatedAt: now.AddDate(0, 0, -1)}
	badCustomer := domain.Order{ID: uuid.New(), ProductID: product.ID, CustomerID: uuid.New(), CreatedAt: now.AddDate(0, 0, -1)}

	repo := &fakeRepo{
		products:  []domain.Product{product},
		customers: []domain.Customer{customer},
		orders:    []domain.Order{goodNoEvents, badProduct, badCustomer},
		orphans:   2,
	}

	svc := newTestService(repo, fakeCfg{spineStart: spineStart, lookback: time.Hour, concurrency: 2}, now)

	result, err := svc.Refresh(context.Background(), RefreshParams{})
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	// Two reference-integrity rejects plus two orphan events.
	if result.AnomaliesExcluded != 4 {
		t.Fatalf("AnomaliesExcluded = %d, want 4", result.AnomaliesExcluded)
	}
	// The eventless order stays in but is flagged.
	if result.OrdersProcessed != 1 {
		t.Fatalf("OrdersProcessed = %d, want 1", result.OrdersProcessed)
	}
	if result.QualityFlagged != 1 {
		t.Fatalf("QualityFlagged = %d, want 1", result.QualityFlagged)
	}
}

func TestRefreshFailureRecordsRun(t *testing.T) {
	now := time.Date(2024, 7, 2, 12, 0, 0, 0, time.UTC)
	mergeErr := errors.New("merge failed")

	repo := &fakeRepo{completeErr: mergeErr}
	svc := newTestService(repo, fakeCfg{spineStart: now.AddDate(0, 0, -1), lookback: time.Hour, concurrency: 1}, now)

	_, err := svc.Refresh(context.Background(), RefreshParams{})
	if !errors.Is(err, mergeErr) {
		t.Fatalf("Refresh error = %v, want %v", err, mergeErr)
	}
	if repo.begun == nil {
		t.Fatal("BeginRun never called")
	}
	if repo.failedID != repo.begun.ID {
		t.Fatalf("FailRun called for %v, want begun run %v", repo.failedID, repo.begun.ID)
	}
	if repo.failedMsg == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestRefreshBeginRunErrorPropagates(t *testing.T) {
	now := time.Date(2024, 7, 2, 12, 0, 0, 0, time.UTC)
	beginErr := errors.New("run already in progress")

	repo := &fakeRepo{beginErr: beginErr}
	svc := newTestService(repo, fakeCfg{spineStart: now.AddDate(0, 0, -1), lookback: time.Hour, concurrency: 1}, now)

	_, err := svc.Refresh(context.Background(), RefreshParams{})
	if !errors.Is(err, beginErr) {
		t.Fatalf("Refresh error = %v, want %v", err, beginErr)
	}
	if repo.failedID != (uuid.UUID{}) {
		t.Fatal("FailRun must not be called when the run never began")
	}
}

func TestRefreshRerunWithSameInputsReproducesRows(t *testing.T) {
	now := time.Date(2024, 7, 10, 14, 0, 0, 0, time.UTC)
	spineStart := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	product := domain.Product{ID: uuid.New(), Name: "Widget"}
	customer := domain.Customer{ID: uuid.New(), Country: domain.USCountry}
	agent := domain.Agent{ID: uuid.New()}

	// Two orders on the same day, one early and one late. The second run's
	// lookback cutoff falls between them, so a pull from the raw cutoff
	// instant would drop the early order and corrupt the day's average.
	early := domain.Order{
		ID: uuid.New(), ProductID: product.ID, CustomerID: customer.ID,
		CreatedAt: time.Date(2024, 7, 3, 8, 0, 0, 0, time.UTC),
	}
	late := domain.Order{
		ID: uuid.New(), ProductID: product.ID, CustomerID: customer.ID,
		CreatedAt: time.Date(2024, 7, 3, 20, 0, 0, 0, time.UTC),
	}

	repo := &fakeRepo{
		products:  []domain.Product{product},
		customers: []domain.Customer{customer},
		agents:    []domain.Agent{agent},
		orders:    []domain.Order{early, late},
		events: []domain.FulfillmentEvent{
			{ID: 1, OrderID: early.ID, Stage: domain.StagePackaged, OccurredAt: early.CreatedAt.AddDate(0, 0, 1), AgentID: agent.ID},
			{ID: 2, OrderID: late.ID, Stage: domain.StagePackaged, OccurredAt: late.CreatedAt.AddDate(0, 0, 3), AgentID: agent.ID},
		},
	}

	cfg := fakeCfg{spineStart: spineStart, lookback: time.Hour, concurrency: 2}
	svc := newTestService(repo, cfg, now)

	if _, err := svc.Refresh(context.Background(), RefreshParams{}); err != nil {
		t.Fatalf("first Refresh returned error: %v", err)
	}
	firstRows := repo.rows

	orderDay := domain.DateOf(early.CreatedAt)
	firstDayRow := findRow(t, firstRows, orderDay, product.ID)
	if firstDayRow.AvgDaysToPack != 2 {
		t.Fatalf("full rebuild AvgDaysToPack = %v, want 2", firstDayRow.AvgDaysToPack)
	}

	// Second run with unchanged inputs, watermark taken from the first run.
	repo.lastRun = repo.completed
	if _, err := svc.Refresh(context.Background(), RefreshParams{}); err != nil {
		t.Fatalf("second Refresh returned error: %v", err)
	}

	if len(repo.rows) == 0 {
		t.Fatal("second run merged no rows")
	}
	for _, row := range repo.rows {
		want := findRow(t, firstRows, row.Date, row.ProductID)
		if !reflect.DeepEqual(row, want) {
			t.Fatalf("re-run changed row for (%v, %v):\n got %+v\nwant %+v", row.Date, row.ProductID, row, want)
		}
	}

	secondDayRow := findRow(t, repo.rows, orderDay, product.ID)
	if secondDayRow.AvgDaysToPack != 2 {
		t.Fatalf("re-run AvgDaysToPack = %v, want 2 (early order must not be dropped)", secondDayRow.AvgDaysToPack)
	}
}

func TestRefreshOverrideWatermarkForcesWindow(t *testing.T) {
	now := time.Date(2024, 7, 10, 14, 0, 0, 0, time.UTC)
	stored := time.Date(2024, 7, 9, 0, 0, 0, 0, time.UTC)
	override := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	lookback := 24 * time.Hour

	repo := &fakeRepo{
		lastRun: &repository.RefreshRun{ID: uuid.New(), Status: repository.RunStatusSucceeded, Watermark: &stored},
	}
	svc := newTestService(repo, fakeCfg{spineStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), lookback: lookback, concurrency: 1}, now)

	_, err := svc.Refresh(context.Background(), RefreshParams{OverrideWatermark: &override})
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	wantCutoff := domain.DateOf(override.Add(-lookback))
	if repo.ordersSince == nil || !repo.ordersSince.Equal(wantCutoff) {
		t.Fatalf("orders cutoff = %v, want start of override lookback day %v", repo.ordersSince, wantCutoff)
	}
}
