package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fulfillment_metrics_backend/internal/analytics/domain"
	"fulfillment_metrics_backend/platform/apperr"
)

const runInProgressMessage = "a refresh run is already in progress"

// Repo implements the analytics repository over Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new analytics repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

// ListProducts returns the full product dimension.
func (r *Repo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, category, subcategory
		FROM products
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Subcategory); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListAgents returns the full agent dimension.
func (r *Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, is_contractor FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.IsContractor); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListCustomers returns the full customer dimension.
func (r *Repo) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, country FROM customers`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Country); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// ListOrdersCreatedSince returns orders created at or after the cutoff,
// oldest first. A nil cutoff returns the entire order history.
func (r *Repo) ListOrdersCreatedSince(ctx context.Context, since *time.Time) ([]domain.Order, error) {
	query := `
		SELECT id, product_id, customer_id, created_at
		FROM orders`
	args := []interface{}{}
	if since != nil {
		query += ` WHERE created_at >= $1`
		args = append(args, *since)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.ProductID, &o.CustomerID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListEventsForOrders returns all fulfillment events for the given orders,
// ordered by occurrence time and then event id so the resolver's tie-break
// over equal timestamps is deterministic.
func (r *Repo) ListEventsForOrders(ctx context.Context, orderIDs []uuid.UUID) ([]domain.FulfillmentEvent, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, event_kind, occurred_at, agent_id
		FROM fulfillment_events
		WHERE order_id = ANY($1)
		ORDER BY occurred_at ASC, id ASC`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("list fulfillment events: %w", err)
	}
	defer rows.Close()

	var events []domain.FulfillmentEvent
	for rows.Next() {
		var e domain.FulfillmentEvent
		var kind string
		if err := rows.Scan(&e.ID, &e.OrderID, &kind, &e.OccurredAt, &e.AgentID); err != nil {
			return nil, fmt.Errorf("scan fulfillment event: %w", err)
		}
		stage, err := domain.ParseStage(kind)
		if err != nil {
			return nil, fmt.Errorf("fulfillment event %d: %w", e.ID, err)
		}
		e.Stage = stage
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountOrphanEvents counts fulfillment events that reference no known order.
// A non-nil since bounds the count to the run's window, so old orphans are
// reported once instead of on every incremental run.
func (r *Repo) CountOrphanEvents(ctx context.Context, since *time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM fulfillment_events e
		LEFT JOIN orders o ON o.id = e.order_id
		WHERE o.id IS NULL`
	args := []interface{}{}
	if since != nil {
		query += ` AND e.occurred_at >= $1`
		args = append(args, *since)
	}

	var count int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orphan events: %w", err)
	}
	return count, nil
}

// EnsureDateSpine inserts any missing spine days in [start, end].
func (r *Repo) EnsureDateSpine(ctx context.Context, start, end time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO date_spine (spine_date)
		SELECT d::date
		FROM generate_series($1::date, $2::date, interval '1 day') AS d
		ON CONFLICT (spine_date) DO NOTHING`, start, end)
	if err != nil {
		return fmt.Errorf("ensure date spine: %w", err)
	}
	return nil
}

// ListSpineDates returns spine days in [from, to] as UTC midnights.
func (r *Repo) ListSpineDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT spine_date
		FROM date_spine
		WHERE spine_date BETWEEN $1::date AND $2::date
		ORDER BY spine_date ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list spine dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan spine date: %w", err)
		}
		dates = append(dates, domain.DateOf(d))
	}
	return dates, rows.Err()
}

// LastSucceededRun returns the most recent succeeded run, or nil when no run
// has ever succeeded (first-run rebuild).
func (r *Repo) LastSucceededRun(ctx context.Context) (*RefreshRun, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, runColumns+`
		WHERE status = 'succeeded'
		ORDER BY started_at DESC
		LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last succeeded run: %w", err)
	}
	return &run, nil
}

// BeginRun inserts the running run record. A concurrent run that started
// within the last hour is treated as in progress; older running rows are
// assumed stale (interrupted process) and ignored.
func (r *Repo) BeginRun(ctx context.Context, run RefreshRun) error {
	var inProgress bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM refresh_runs
			WHERE status = 'running' AND started_at > now() - interval '1 hour'
		)`).Scan(&inProgress)
	if err != nil {
		return fmt.Errorf("check running refresh: %w", err)
	}
	if inProgress {
		return apperr.Conflict(runInProgressMessage)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO refresh_runs (id, started_at, status, full_rebuild)
		VALUES ($1, $2, 'running', $3)`, run.ID, run.StartedAt, run.FullRebuild)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// CompleteRun merges the computed aggregate rows and marks the run succeeded
// in one transaction. The merge is replace-by-key: re-running the same window
// overwrites rather than accumulates, so an idempotent retry is safe.
func (r *Repo) CompleteRun(ctx context.Context, run RefreshRun, aggRows []domain.DailyProductAggregate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, row := range aggRows {
		batch.Queue(`
			INSERT INTO daily_product_aggregates (
				aggregate_date, product_id,
				product_name, product_category, product_subcategory,
				avg_days_to_pack, avg_days_to_ship, avg_days_to_deliver,
				avg_us_days_to_pack, avg_us_days_to_ship, avg_us_days_to_deliver,
				avg_contractor_days_to_pack, avg_contractor_days_to_ship, avg_contractor_days_to_deliver,
				computed_at_utc
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (aggregate_date, product_id) DO UPDATE SET
				product_name = EXCLUDED.product_name,
				product_category = EXCLUDED.product_category,
				product_subcategory = EXCLUDED.product_subcategory,
				avg_days_to_pack = EXCLUDED.avg_days_to_pack,
				avg_days_to_ship = EXCLUDED.avg_days_to_ship,
				avg_days_to_deliver = EXCLUDED.avg_days_to_deliver,
				avg_us_days_to_pack = EXCLUDED.avg_us_days_to_pack,
				avg_us_days_to_ship = EXCLUDED.avg_us_days_to_ship,
				avg_us_days_to_deliver = EXCLUDED.avg_us_days_to_deliver,
				avg_contractor_days_to_pack = EXCLUDED.avg_contractor_days_to_pack,
				avg_contractor_days_to_ship = EXCLUDED.avg_contractor_days_to_ship,
				avg_contractor_days_to_deliver = EXCLUDED.avg_contractor_days_to_deliver,
				computed_at_utc = EXCLUDED.computed_at_utc`,
			row.Date, row.ProductID,
			row.ProductName, row.ProductCategory, row.ProductSubcategory,
			row.AvgDaysToPack, row.AvgDaysToShip, row.AvgDaysToDeliver,
			row.AvgUSDaysToPack, row.AvgUSDaysToShip, row.AvgUSDaysToDeliver,
			row.AvgContractorDaysToPack, row.AvgContractorDaysToShip, row.AvgContractorDaysToDeliver,
			row.ComputedAtUTC,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("merge aggregate rows: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_runs
		SET status = 'succeeded',
			finished_at = now(),
			watermark = $2,
			orders_processed = $3,
			rows_upserted = $4,
			anomalies_excluded = $5,
			quality_flagged = $6
		WHERE id = $1 AND status = 'running'`,
		run.ID, run.Watermark, run.OrdersProcessed, run.RowsUpserted,
		run.AnomaliesExcluded, run.QualityFlagged)
	if err != nil {
		return fmt.Errorf("mark run succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("refresh run not found or not running")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge transaction: %w", err)
	}
	return nil
}

// FailRun marks the run failed with a reason. The merge transaction has
// already rolled back by the time this runs, so prior state is intact.
func (r *Repo) FailRun(ctx context.Context, runID uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE refresh_runs
		SET status = 'failed', finished_at = now(), failure_reason = $2
		WHERE id = $1 AND status = 'running'`, runID, reason)
	if err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}
	return nil
}

// ListAggregates lists persisted aggregate rows with filters and pagination.
func (r *Repo) ListAggregates(ctx context.Context, params ListAggregatesParams) ([]domain.DailyProductAggregate, int, error) {
	whereClauses := []string{"1=1"}
	args := []interface{}{}
	argIdx := 1

	if params.From != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("aggregate_date >= $%d::date", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("aggregate_date <= $%d::date", argIdx))
		args = append(args, *params.To)
		argIdx++
	}
	if params.ProductID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("product_id = $%d", argIdx))
		args = append(args, *params.ProductID)
		argIdx++
	}

	whereClause := strings.Join(whereClauses, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM daily_product_aggregates WHERE %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count aggregates: %w", err)
	}

	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT aggregate_date, product_id,
			product_name, product_category, product_subcategory,
			avg_days_to_pack, avg_days_to_ship, avg_days_to_deliver,
			avg_us_days_to_pack, avg_us_days_to_ship, avg_us_days_to_deliver,
			avg_contractor_days_to_pack, avg_contractor_days_to_ship, avg_contractor_days_to_deliver,
			computed_at_utc
		FROM daily_product_aggregates
		WHERE %s
		ORDER BY aggregate_date ASC, product_id ASC
		LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var result []domain.DailyProductAggregate
	for rows.Next() {
		var a domain.DailyProductAggregate
		if err := rows.Scan(
			&a.Date, &a.ProductID,
			&a.ProductName, &a.ProductCategory, &a.ProductSubcategory,
			&a.AvgDaysToPack, &a.AvgDaysToShip, &a.AvgDaysToDeliver,
			&a.AvgUSDaysToPack, &a.AvgUSDaysToShip, &a.AvgUSDaysToDeliver,
			&a.AvgContractorDaysToPack, &a.AvgContractorDaysToShip, &a.AvgContractorDaysToDeliver,
			&a.ComputedAtUTC,
		); err != nil {
			return nil, 0, fmt.Errorf("scan aggregate: %w", err)
		}
		a.Date = domain.DateOf(a.Date)
		result = append(result, a)
	}
	return result, total, rows.Err()
}

// ListRuns lists the most recent refresh runs, newest first.
func (r *Repo) ListRuns(ctx context.Context, limit int) ([]RefreshRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, runColumns+`
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RefreshRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const runColumns = `
	SELECT id, started_at, finished_at, status, watermark, full_rebuild,
		orders_processed, rows_upserted, anomalies_excluded, quality_flagged,
		failure_reason
	FROM refresh_runs`

func scanRun(row pgx.Row) (RefreshRun, error) {
	var run RefreshRun
	err := row.Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.Watermark,
		&run.FullRebuild, &run.OrdersProcessed, &run.RowsUpserted,
		&run.AnomaliesExcluded, &run.QualityFlagged, &run.FailureReason,
	)
	return run, err
}
