package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order is an immutable upstream order record.
type Order struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	CustomerID uuid.UUID
	CreatedAt  time.Time
}

// FulfillmentEvent is one append-only milestone record. Duplicate events of
// the same stage for the same order may exist; only the earliest is
// authoritative.
type FulfillmentEvent struct {
	ID         int64
	OrderID    uuid.UUID
	Stage      Stage
	OccurredAt time.Time
	AgentID    uuid.UUID
}

// Agent is a static reference dimension row.
type Agent struct {
	ID           uuid.UUID
	IsContractor bool
}

// Product is a static reference dimension row. Every product appears on
// every spine day in the aggregate output, regardless of sales.
type Product struct {
	ID          uuid.UUID
	Name        string
	Category    string
	Subcategory string
}

// Customer is a static reference dimension row.
type Customer struct {
	ID      uuid.UUID
	Country string
}

// USCountry is the country value that marks an order as a US-customer order.
const USCountry = "United States"
