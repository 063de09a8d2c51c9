package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fulfillment_metrics_backend/internal/analytics/domain"
	"fulfillment_metrics_backend/internal/analytics/repository"
	"fulfillment_metrics_backend/internal/events"
	"fulfillment_metrics_backend/platform/config"
	"fulfillment_metrics_backend/platform/logger"
)

// RefreshParams is the control surface of a refresh run. Both fields are
// optional; when unset, the watermark comes from the last succeeded run and
// the lookback from configuration.
type RefreshParams struct {
	OverrideWatermark *time.Time
	OverrideLookback  *time.Duration
}

// RefreshResult reports what a completed run did.
type RefreshResult struct {
	RunID             uuid.UUID
	FullRebuild       bool
	Watermark         *time.Time
	OrdersProcessed   int
	RowsUpserted      int
	AnomaliesExcluded int
	QualityFlagged    int
}

// Service is the incremental refresh controller: it decides the order window,
// drives the resolve/derive/aggregate stages, and merges the result into
// persisted state as one transaction.
type Service struct {
	repo repository.Repository
	cfg  config.RefreshConfig
	log  *logger.Logger
	bus  events.Bus
	now  func() time.Time
}

// New creates the analytics service.
func New(repo repository.Repository, cfg config.RefreshConfig, log *logger.Logger, bus events.Bus) *Service {
	return &Service{
		repo: repo,
		cfg:  cfg,
		log:  log,
		bus:  bus,
		now:  time.Now,
	}
}

// Refresh executes one run. On the first run (no prior succeeded run) the
// entire spine × product grid is rebuilt; afterwards only orders created on
// or after the day containing (previous watermark - safety lookback) are
// pulled through the pipeline, and only the grid cells of that window are
// re-merged. The order pull is aligned to whole days so every recomputed
// day bucket sees all of that day's orders.
//
// Interrupted runs are safe to retry: the merge is replace-by-key and the
// run record flips to succeeded in the same transaction as the merge.
func (s *Service) Refresh(ctx context.Context, params RefreshParams) (RefreshResult, error) {
	startedAt := s.now().UTC()

	last, err := s.repo.LastSucceededRun(ctx)
	if err != nil {
		return RefreshResult{}, err
	}

	var prevWatermark *time.Time
	if last != nil {
		prevWatermark = last.Watermark
	}

	baseWatermark := prevWatermark
	if params.OverrideWatermark != nil {
		baseWatermark = params.OverrideWatermark
	}

	lookback := s.cfg.GetRefreshLookback()
	if params.OverrideLookback != nil {
		lookback = *params.OverrideLookback
	}

	var cutoff *time.Time
	if baseWatermark != nil {
		c := baseWatermark.Add(-lookback)
		cutoff = &c
	}
	fullRebuild := cutoff == nil

	run := repository.RefreshRun{
		ID:          uuid.New(),
		StartedAt:   startedAt,
		FullRebuild: fullRebuild,
	}
	if err := s.repo.BeginRun(ctx, run); err != nil {
		return RefreshResult{}, err
	}

	result, err := s.execute(ctx, &run, cutoff, prevWatermark)
	if err != nil {
		// The failure must be recorded even when ctx itself was cancelled.
		_ = s.repo.FailRun(context.WithoutCancel(ctx), run.ID, err.Error())
		s.log.RefreshFailed(run.ID.String(), err)
		s.publish(ctx, events.AggregateRefreshFailed{
			BaseEvent: events.NewBaseEvent(),
			RunID:     run.ID,
			Reason:    err.Error(),
		})
		return RefreshResult{}, err
	}

	s.log.RefreshRun(run.ID.String(), result.FullRebuild,
		result.OrdersProcessed, result.RowsUpserted,
		result.AnomaliesExcluded, result.QualityFlagged,
		float64(s.now().UTC().Sub(startedAt).Milliseconds()))
	s.publish(ctx, events.AggregateRefreshCompleted{
		BaseEvent:         events.NewBaseEvent(),
		RunID:             run.ID,
		FullRebuild:       result.FullRebuild,
		Watermark:         result.Watermark,
		OrdersProcessed:   result.OrdersProcessed,
		RowsUpserted:      result.RowsUpserted,
		AnomaliesExcluded: result.AnomaliesExcluded,
		QualityFlagged:    result.QualityFlagged,
	})
	return result, nil
}

func (s *Service) execute(ctx context.Context, run *repository.RefreshRun, cutoff, prevWatermark *time.Time) (RefreshResult, error) {
	today := domain.DateOf(s.now())
	spineStart := domain.DateOf(s.cfg.GetSpineStartDate())

	// The spine is extended forward on every run so "through present" holds
	// without manual reseeding.
	if err := s.repo.EnsureDateSpine(ctx, spineStart, today); err != nil {
		return RefreshResult{}, err
	}

	windowStart := spineStart
	if cutoff != nil {
		if d := domain.DateOf(*cutoff); d.After(windowStart) {
			windowStart = d
		}
	}

	// The merge replaces whole (date, product) buckets, so the order pull
	// must cover the grid window's full first day: pulling from the raw
	// cutoff instant would recompute the cutoff day from a partial day of
	// orders and overwrite the bucket with a corrupted average.
	var orderCutoff *time.Time
	if cutoff != nil {
		orderCutoff = &windowStart
	}

	dates, err := s.repo.ListSpineDates(ctx, windowStart, today)
	if err != nil {
		return RefreshResult{}, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return RefreshResult{}, err
	}
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return RefreshResult{}, err
	}
	agents, err := s.repo.ListAgents(ctx)
	if err != nil {
		return RefreshResult{}, err
	}
	orders, err := s.repo.ListOrdersCreatedSince(ctx, orderCutoff)
	if err != nil {
		return RefreshResult{}, err
	}

	productSet := make(map[uuid.UUID]struct{}, len(products))
	for _, p := range products {
		productSet[p.ID] = struct{}{}
	}
	countryByCustomer := make(map[uuid.UUID]string, len(customers))
	for _, c := range customers {
		countryByCustomer[c.ID] = c.Country
	}
	contractorByAgent := make(map[uuid.UUID]bool, len(agents))
	for _, a := range agents {
		contractorByAgent[a.ID] = a.IsContractor
	}

	// Reference-integrity check: orders pointing at an unknown product or
	// customer are excluded and counted, never fatal.
	excluded := 0
	valid := orders[:0]
	for _, o := range orders {
		if _, ok := productSet[o.ProductID]; !ok {
			excluded++
			s.log.DataQuality("unknown_product", o.ID.String(), o.ProductID.String())
			continue
		}
		if _, ok := countryByCustomer[o.CustomerID]; !ok {
			excluded++
			s.log.DataQuality("unknown_customer", o.ID.String(), o.CustomerID.String())
			continue
		}
		valid = append(valid, o)
	}

	// Events referencing no known order never join anything; they are
	// reported as excluded anomalies alongside the bad orders. The count is
	// bounded to the run's window so old orphans are not re-reported on
	// every incremental run.
	orphans, err := s.repo.CountOrphanEvents(ctx, orderCutoff)
	if err != nil {
		return RefreshResult{}, err
	}
	excluded += orphans

	orderIDs := make([]uuid.UUID, len(valid))
	for i, o := range valid {
		orderIDs[i] = o.ID
	}
	eventRows, err := s.repo.ListEventsForOrders(ctx, orderIDs)
	if err != nil {
		return RefreshResult{}, err
	}
	eventsByOrder := make(map[uuid.UUID][]domain.FulfillmentEvent, len(valid))
	for _, e := range eventRows {
		eventsByOrder[e.OrderID] = append(eventsByOrder[e.OrderID], e)
	}

	metrics, flagged, err := s.deriveAll(ctx, valid, eventsByOrder, countryByCustomer, contractorByAgent)
	if err != nil {
		return RefreshResult{}, err
	}

	aggRows, err := Aggregate(ctx, Grid{Dates: dates, Products: products}, metrics, s.now().UTC())
	if err != nil {
		return RefreshResult{}, err
	}

	watermark := nextWatermark(prevWatermark, valid)
	run.Watermark = watermark
	run.OrdersProcessed = len(valid)
	run.RowsUpserted = len(aggRows)
	run.AnomaliesExcluded = excluded
	run.QualityFlagged = flagged

	if err := s.repo.CompleteRun(ctx, *run, aggRows); err != nil {
		return RefreshResult{}, err
	}

	return RefreshResult{
		RunID:             run.ID,
		FullRebuild:       run.FullRebuild,
		Watermark:         watermark,
		OrdersProcessed:   run.OrdersProcessed,
		RowsUpserted:      run.RowsUpserted,
		AnomaliesExcluded: run.AnomaliesExcluded,
		QualityFlagged:    run.QualityFlagged,
	}, nil
}

// deriveAll resolves and derives metrics for all orders, fanning out over
// fixed partitions. Derivation is order-local, so partitions share nothing;
// the errgroup wait is the pipeline's sole synchronization barrier and the
// point where cancellation takes effect.
func (s *Service) deriveAll(
	ctx context.Context,
	orders []domain.Order,
	eventsByOrder map[uuid.UUID][]domain.FulfillmentEvent,
	countryByCustomer map[uuid.UUID]string,
	contractorByAgent map[uuid.UUID]bool,
) ([]domain.OrderMetric, int, error) {
	if len(orders) == 0 {
		return nil, 0, nil
	}

	parts := s.cfg.GetDeriveConcurrency()
	if parts < 1 {
		parts = 1
	}
	if parts > len(orders) {
		parts = len(orders)
	}

	metrics := make([]domain.OrderMetric, len(orders))
	flags := make([]int, parts)

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(orders) + parts - 1) / parts
	for p := 0; p < parts; p++ {
		start := p * chunk
		end := min(start+chunk, len(orders))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				order := orders[i]
				resolution := ResolveStages(eventsByOrder[order.ID])
				metric := DeriveMetric(order, resolution, countryByCustomer[order.CustomerID], contractorByAgent)
				metrics[i] = metric

				if isQualityAnomaly(metric, resolution, contractorByAgent) {
					flags[p]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	flagged := 0
	for _, f := range flags {
		flagged += f
	}
	return metrics, flagged, nil
}

// isQualityAnomaly reports whether an order carries a data-quality fact worth
// surfacing: a negative duration, no resolvable events at all, or a resolved
// agent missing from the agent dimension. Such orders stay in the aggregates.
func isQualityAnomaly(m domain.OrderMetric, res domain.StageResolution, contractorByAgent map[uuid.UUID]bool) bool {
	for _, d := range []*int{m.DaysToPack, m.DaysToShip, m.DaysToDeliver} {
		if d != nil && *d < 0 {
			return true
		}
	}

	resolvedAny := false
	for _, stage := range domain.AllStages() {
		if resolved := res[stage]; resolved != nil {
			resolvedAny = true
			if _, known := contractorByAgent[resolved.AgentID]; !known {
				return true
			}
		}
	}
	return !resolvedAny
}

// nextWatermark advances the watermark to the newest order reflected in the
// merge, never regressing below the previous run's watermark even when the
// window was empty.
func nextWatermark(prev *time.Time, orders []domain.Order) *time.Time {
	watermark := prev
	for _, o := range orders {
		if watermark == nil || o.CreatedAt.After(*watermark) {
			t := o.CreatedAt
			watermark = &t
		}
	}
	return watermark
}

// ListAggregates exposes the persisted aggregate rows for the read API.
func (s *Service) ListAggregates(ctx context.Context, params repository.ListAggregatesParams) ([]domain.DailyProductAggregate, int, error) {
	return s.repo.ListAggregates(ctx, params)
}

// ListRuns exposes the refresh run log for the read API.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]repository.RefreshRun, error) {
	return s.repo.ListRuns(ctx, limit)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, event)
}
