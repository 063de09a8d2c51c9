package service

import (
	"github.com/google/uuid"

	"fulfillment_metrics_backend/internal/analytics/domain"
)

// DeriveMetric computes the single fact row for an order from its resolved
// stages and reference dimensions. Durations are whole-day differences
// between UTC calendar days:
//
//   - days-to-pack: order creation to packaged
//   - days-to-ship: packaged to shipped
//   - days-to-deliver: order creation to delivered (end-to-end latency)
//
// A duration is nil when a required milestone is absent. contractorByAgent
// maps agent id to the contractor flag; an agent missing from the dimension
// counts as non-contractor.
func DeriveMetric(order domain.Order, res domain.StageResolution, country string, contractorByAgent map[uuid.UUID]bool) domain.OrderMetric {
	metric := domain.OrderMetric{
		OrderID:      order.ID,
		ProductID:    order.ProductID,
		CreatedDate:  domain.DateOf(order.CreatedAt),
		IsUSCustomer: country == domain.USCountry,
	}

	if packaged := res[domain.StagePackaged]; packaged != nil {
		d := domain.DaysBetween(order.CreatedAt, packaged.OccurredAt)
		metric.DaysToPack = &d

		if shipped := res[domain.StageShipped]; shipped != nil {
			d := domain.DaysBetween(packaged.OccurredAt, shipped.OccurredAt)
			metric.DaysToShip = &d
		}
	}

	if delivered := res[domain.StageDelivered]; delivered != nil {
		d := domain.DaysBetween(order.CreatedAt, delivered.OccurredAt)
		metric.DaysToDeliver = &d
	}

	for _, stage := range domain.AllStages() {
		if resolved := res[stage]; resolved != nil && contractorByAgent[resolved.AgentID] {
			metric.HasContractorSupport = true
			break
		}
	}

	return metric
}
