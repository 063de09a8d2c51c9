// Package analytics provides the fulfillment analytics bounded context:
// the incremental daily product aggregate engine and its HTTP surface.
package analytics

import (
	"fulfillment_metrics_backend/internal/analytics/handler"
	"fulfillment_metrics_backend/internal/analytics/repository"
	"fulfillment_metrics_backend/internal/analytics/service"
	"fulfillment_metrics_backend/internal/events"
	apphttp "fulfillment_metrics_backend/internal/http"
	"fulfillment_metrics_backend/platform/config"
	"fulfillment_metrics_backend/platform/logger"
	"fulfillment_metrics_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the analytics bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    repository.Repository
}

// NewModule creates and initializes the analytics module.
func NewModule(pool *pgxpool.Pool, val *validator.Validator, cfg config.RefreshConfig, log *logger.Logger, bus events.Bus) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, cfg, log, bus)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "analytics"
}

// Service returns the service layer for external use (scheduler, CLI).
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the repository for direct access if needed.
func (m *Module) Repository() repository.Repository {
	return m.repo
}

// RegisterRoutes mounts analytics routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/analytics")
	group.POST("/refresh", ctx.RefreshRateLimiter.RateLimit(), m.handler.Refresh)
	group.GET("/aggregates", m.handler.ListAggregates)
	group.GET("/runs", m.handler.ListRuns)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
