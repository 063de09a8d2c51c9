package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fulfillment_metrics_backend/internal/analytics/repository"
	"fulfillment_metrics_backend/internal/analytics/service"
	"fulfillment_metrics_backend/internal/analytics/transport"
	"fulfillment_metrics_backend/platform/httpkit"
	"fulfillment_metrics_backend/platform/validator"
)

// Handler handles HTTP requests for analytics.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidWatermark = "invalid watermark timestamp"
)

// New creates a new analytics handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// Refresh triggers one synchronous refresh run.
// POST /api/v1/analytics/refresh
func (h *Handler) Refresh(c *gin.Context) {
	var req transport.RefreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	var params service.RefreshParams
	if req.Watermark != nil {
		watermark, err := time.Parse(time.RFC3339, *req.Watermark)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidWatermark, nil)
			return
		}
		params.OverrideWatermark = &watermark
	}
	if req.LookbackHours != nil {
		lookback := time.Duration(*req.LookbackHours) * time.Hour
		params.OverrideLookback = &lookback
	}

	result, err := h.svc.Refresh(c.Request.Context(), params)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.RefreshResponse{
		RunID:             result.RunID,
		Status:            repository.RunStatusSucceeded,
		FullRebuild:       result.FullRebuild,
		Watermark:         result.Watermark,
		OrdersProcessed:   result.OrdersProcessed,
		RowsUpserted:      result.RowsUpserted,
		AnomaliesExcluded: result.AnomaliesExcluded,
		QualityFlagged:    result.QualityFlagged,
	})
}

// ListAggregates retrieves persisted daily product aggregates.
// GET /api/v1/analytics/aggregates
func (h *Handler) ListAggregates(c *gin.Context) {
	var req transport.ListAggregatesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = 100
	}

	params := repository.ListAggregatesParams{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	if req.From != "" {
		from, _ := time.Parse("2006-01-02", req.From)
		params.From = &from
	}
	if req.To != "" {
		to, _ := time.Parse("2006-01-02", req.To)
		params.To = &to
	}
	if req.ProductID != "" {
		productID, err := uuid.Parse(req.ProductID)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		params.ProductID = &productID
	}

	rows, total, err := h.svc.ListAggregates(c.Request.Context(), params)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]transport.AggregateResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, transport.AggregateResponse{
			Date:                       row.Date.Format("2006-01-02"),
			ProductID:                  row.ProductID,
			ProductName:                row.ProductName,
			ProductCategory:            row.ProductCategory,
			ProductSubcategory:         row.ProductSubcategory,
			AvgDaysToPack:              row.AvgDaysToPack,
			AvgDaysToShip:              row.AvgDaysToShip,
			AvgDaysToDeliver:           row.AvgDaysToDeliver,
			AvgUSDaysToPack:            row.AvgUSDaysToPack,
			AvgUSDaysToShip:            row.AvgUSDaysToShip,
			AvgUSDaysToDeliver:         row.AvgUSDaysToDeliver,
			AvgContractorDaysToPack:    row.AvgContractorDaysToPack,
			AvgContractorDaysToShip:    row.AvgContractorDaysToShip,
			AvgContractorDaysToDeliver: row.AvgContractorDaysToDeliver,
			ComputedAtUTC:              row.ComputedAtUTC,
		})
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}

	httpkit.OK(c, transport.AggregateListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// ListRuns retrieves recent refresh runs.
// GET /api/v1/analytics/runs
func (h *Handler) ListRuns(c *gin.Context) {
	var req transport.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	runs, err := h.svc.ListRuns(c.Request.Context(), req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]transport.RunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, transport.RunResponse{
			ID:                run.ID,
			StartedAt:         run.StartedAt,
			FinishedAt:        run.FinishedAt,
			Status:            run.Status,
			Watermark:         run.Watermark,
			FullRebuild:       run.FullRebuild,
			OrdersProcessed:   run.OrdersProcessed,
			RowsUpserted:      run.RowsUpserted,
			AnomaliesExcluded: run.AnomaliesExcluded,
			QualityFlagged:    run.QualityFlagged,
			FailureReason:     run.FailureReason,
		})
	}

	httpkit.OK(c, transport.RunListResponse{Items: items})
}
