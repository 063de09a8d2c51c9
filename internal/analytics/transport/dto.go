package transport

import (
	"time"

	"github.com/google/uuid"
)

// Refresh

type RefreshRequest struct {
	// Watermark overrides the stored watermark (RFC 3339). Forcing it back
	// reprocesses an older window; the merge stays replace-by-key.
	Watermark *string `json:"watermark,omitempty" validate:"omitempty"`
	// LookbackHours overrides the configured safety lookback.
	LookbackHours *int `json:"lookbackHours,omitempty" validate:"omitempty,min=0,max=8760"`
}

type RefreshResponse struct {
	RunID             uuid.UUID  `json:"runId"`
	Status            string     `json:"status"`
	FullRebuild       bool       `json:"fullRebuild"`
	Watermark         *time.Time `json:"watermark,omitempty"`
	OrdersProcessed   int        `json:"ordersProcessed"`
	RowsUpserted      int        `json:"rowsUpserted"`
	AnomaliesExcluded int        `json:"anomaliesExcluded"`
	QualityFlagged    int        `json:"qualityFlagged"`
}

// Aggregates

type ListAggregatesRequest struct {
	From      string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To        string `form:"to" validate:"omitempty,datetime=2006-01-02"`
	ProductID string `form:"productId" validate:"omitempty,uuid"`
	Page      int    `form:"page" validate:"omitempty,min=1"`
	PageSize  int    `form:"pageSize" validate:"omitempty,min=1,max=1000"`
}

type AggregateResponse struct {
	Date                       string    `json:"date"`
	ProductID                  uuid.UUID `json:"productId"`
	ProductName                string    `json:"productName"`
	ProductCategory            string    `json:"productCategory"`
	ProductSubcategory         string    `json:"productSubcategory"`
	AvgDaysToPack              float64   `json:"avgDaysToPack"`
	AvgDaysToShip              float64   `json:"avgDaysToShip"`
	AvgDaysToDeliver           float64   `json:"avgDaysToDeliver"`
	AvgUSDaysToPack            float64   `json:"avgUsDaysToPack"`
	AvgUSDaysToShip            float64   `json:"avgUsDaysToShip"`
	AvgUSDaysToDeliver         float64   `json:"avgUsDaysToDeliver"`
	AvgContractorDaysToPack    float64   `json:"avgContractorDaysToPack"`
	AvgContractorDaysToShip    float64   `json:"avgContractorDaysToShip"`
	AvgContractorDaysToDeliver float64   `json:"avgContractorDaysToDeliver"`
	ComputedAtUTC              time.Time `json:"computedAtUtc"`
}

type AggregateListResponse struct {
	Items      []AggregateResponse `json:"items"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
	TotalPages int                 `json:"totalPages"`
}

// Runs

type ListRunsRequest struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=200"`
}

type RunResponse struct {
	ID                uuid.UUID  `json:"id"`
	StartedAt         time.Time  `json:"startedAt"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
	Status            string     `json:"status"`
	Watermark         *time.Time `json:"watermark,omitempty"`
	FullRebuild       bool       `json:"fullRebuild"`
	OrdersProcessed   int        `json:"ordersProcessed"`
	RowsUpserted      int        `json:"rowsUpserted"`
	AnomaliesExcluded int        `json:"anomaliesExcluded"`
	QualityFlagged    int        `json:"qualityFlagged"`
	FailureReason     *string    `json:"failureReason,omitempty"`
}

type RunListResponse struct {
	Items []RunResponse `json:"items"`
}
