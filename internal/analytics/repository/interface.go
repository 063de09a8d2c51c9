package repository

import (
	"context"
	"time"

	"fulfillment_metrics_backend/internal/analytics/domain"

	"github.com/google/uuid"
)

// Run statuses as persisted in refresh_runs.status.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// RefreshRun is one row of the refresh run log. The watermark of the latest
// succeeded run is the cutoff before which all orders are assumed fully
// reflected in the aggregate table.
type RefreshRun struct {
	ID                uuid.UUID
	StartedAt         time.Time
	FinishedAt        *time.Time
	Status            string
	Watermark         *time.Time
	FullRebuild       bool
	OrdersProcessed   int
	RowsUpserted      int
	AnomaliesExcluded int
	QualityFlagged    int
	FailureReason     *string
}

// ListAggregatesParams filters persisted aggregate rows.
type ListAggregatesParams struct {
	From      *time.Time
	To        *time.Time
	ProductID *uuid.UUID
	Limit     int
	Offset    int
}

// Repository is the persistence boundary of the analytics engine: read-only
// source tables, the date spine, the run log, and the merge target.
type Repository interface {
	// Reference dimensions.
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)

	// Facts. ListOrdersCreatedSince with a nil cutoff returns the full order
	// history (first-run rebuild).
	ListOrdersCreatedSince(ctx context.Context, since *time.Time) ([]domain.Order, error)
	ListEventsForOrders(ctx context.Context, orderIDs []uuid.UUID) ([]domain.FulfillmentEvent, error)
	// CountOrphanEvents counts fulfillment events referencing no known order,
	// limited to events occurring at or after since when it is non-nil.
	CountOrphanEvents(ctx context.Context, since *time.Time) (int, error)

	// Date spine. EnsureDateSpine inserts any missing days in [start, end].
	EnsureDateSpine(ctx context.Context, start, end time.Time) error
	ListSpineDates(ctx context.Context, from, to time.Time) ([]time.Time, error)

	// Run log and watermark.
	LastSucceededRun(ctx context.Context) (*RefreshRun, error)
	BeginRun(ctx context.Context, run RefreshRun) error
	// CompleteRun merges the aggregate rows and marks the run succeeded in a
	// single transaction; an interrupted run leaves prior state untouched.
	CompleteRun(ctx context.Context, run RefreshRun, rows []domain.DailyProductAggregate) error
	FailRun(ctx context.Context, runID uuid.UUID, reason string) error

	// Read side for the API.
	ListAggregates(ctx context.Context, params ListAggregatesParams) ([]domain.DailyProductAggregate, int, error)
	ListRuns(ctx context.Context, limit int) ([]RefreshRun, error)
}
