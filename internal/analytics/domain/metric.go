package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResolvedStage is the authoritative (earliest) event for one stage of one
// order.
type ResolvedStage struct {
	OccurredAt time.Time
	AgentID    uuid.UUID
}

// StageResolution holds the resolved milestone per stage, indexed by Stage.
// A nil entry means no event of that stage exists for the order.
type StageResolution [NumStages]*ResolvedStage

// OrderMetric is the per-order fact row derived from an order and its
// resolved stages. Duration fields are nil when the corresponding milestone
// never occurred; a negative value is a data-quality fact, not an error.
type OrderMetric struct {
	OrderID              uuid.UUID
	ProductID            uuid.UUID
	CreatedDate          time.Time // UTC midnight of the order creation day
	DaysToPack           *int
	DaysToShip           *int
	DaysToDeliver        *int
	IsUSCustomer         bool
	HasContractorSupport bool
}

// DailyProductAggregate is one persisted output row, unique per
// (date, product). Averages default to zero when a slice has no
// contributing orders.
type DailyProductAggregate struct {
	Date                       time.Time // UTC midnight
	ProductID                  uuid.UUID
	ProductName                string
	ProductCategory            string
	ProductSubcategory         string
	AvgDaysToPack              float64
	AvgDaysToShip              float64
	AvgDaysToDeliver           float64
	AvgUSDaysToPack            float64
	AvgUSDaysToShip            float64
	AvgUSDaysToDeliver         float64
	AvgContractorDaysToPack    float64
	AvgContractorDaysToShip    float64
	AvgContractorDaysToDeliver float64
	ComputedAtUTC              time.Time
}

// DateOf truncates a timestamp to its UTC calendar day (midnight UTC).
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole-day difference between the UTC calendar days
// of two timestamps. The result is negative when to precedes from, matching
// how out-of-order event data must surface as a negative duration.
func DaysBetween(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}
