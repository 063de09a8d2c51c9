// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"fulfillment_metrics_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Analytics Domain Events
// =============================================================================

// AggregateRefreshCompleted is published after a refresh run merges
// successfully.
type AggregateRefreshCompleted struct {
	BaseEvent
	RunID             uuid.UUID  `json:"runId"`
	FullRebuild       bool       `json:"fullRebuild"`
	Watermark         *time.Time `json:"watermark,omitempty"`
	OrdersProcessed   int        `json:"ordersProcessed"`
	RowsUpserted      int        `json:"rowsUpserted"`
	AnomaliesExcluded int        `json:"anomaliesExcluded"`
	QualityFlagged    int        `json:"qualityFlagged"`
}

func (e AggregateRefreshCompleted) EventName() string { return "analytics.refresh.completed" }

// AggregateRefreshFailed is published when a refresh run aborts. The merge
// transaction has already rolled back; persisted aggregates are unchanged.
type AggregateRefreshFailed struct {
	BaseEvent
	RunID  uuid.UUID `json:"runId"`
	Reason string    `json:"reason"`
}

func (e AggregateRefreshFailed) EventName() string { return "analytics.refresh.failed" }
