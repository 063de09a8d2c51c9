package service

import (
	"fulfillment_metrics_backend/internal/analytics/domain"
)

// ResolveStages collapses an order's event stream to at most one
// (timestamp, agent) per stage. The earliest occurrence wins; events with
// equal timestamps break by the smallest event id, which is stable because
// the event table is append-only. A stage with no events stays absent.
//
// Out-of-order sequences (e.g. delivered before packaged) are resolved as-is;
// the metric deriver surfaces them as negative durations rather than errors.
func ResolveStages(events []domain.FulfillmentEvent) domain.StageResolution {
	var best [domain.NumStages]*domain.FulfillmentEvent

	for i := range events {
		e := &events[i]
		current := best[e.Stage]
		if current == nil || earlier(e, current) {
			best[e.Stage] = e
		}
	}

	var resolution domain.StageResolution
	for _, stage := range domain.AllStages() {
		if e := best[stage]; e != nil {
			resolution[stage] = &domain.ResolvedStage{
				OccurredAt: e.OccurredAt,
				AgentID:    e.AgentID,
			}
		}
	}
	return resolution
}

func earlier(a, b *domain.FulfillmentEvent) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.ID < b.ID
}
