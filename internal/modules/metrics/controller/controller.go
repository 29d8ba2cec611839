package controller

import (
	"context"
	"log/slog"
	"net/http"

	"plantmon-server/internal/modules/metrics/types"
)

// MetricService is the query façade the controller needs.
type MetricService interface {
	CreateMetric(ctx context.Context, in types.MetricInput) (types.MetricRecord, error)
	ReadByID(ctx context.Context, id int64) (*types.MetricRecord, error)
	ReadAtTime(ctx context.Context, timeStr string) (*types.MetricRecord, error)
	ReadBeforeTime(ctx context.Context, timeStr string) ([]types.MetricRecord, error)
	DeleteByID(ctx context.Context, id int64) (bool, error)
	DeleteBeforeTime(ctx context.Context, timeStr string) ([]string, error)
	ReadSeries(ctx context.Context, metric types.Metric, order types.Order, after string) (types.Bundle, error)
	ReadBundle(ctx context.Context, metrics []types.Metric, order types.Order) (types.Bundle, error)
}

type MetricsController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type metricsControllerImpl struct {
	service MetricService
	logger  *slog.Logger
}

func NewMetricsController(service MetricService, logger *slog.Logger) MetricsController {
	if logger == nil {
		logger = slog.Default()
	}
	return &metricsControllerImpl{service: service, logger: logger}
}

func (c *metricsControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/metrics", c.handleCreate)
	mux.HandleFunc("GET /api/v1/metrics/{id}", c.handleGetByID)
	mux.HandleFunc("DELETE /api/v1/metrics/{id}", c.handleDeleteByID)
	mux.HandleFunc("GET /api/v1/metrics/time/{time}", c.handleGetAtTime)
	mux.HandleFunc("GET /api/v1/metrics/before/{time}", c.handleGetBefore)
	mux.HandleFunc("DELETE /api/v1/metrics/before/{time}", c.handleDeleteBefore)

	mux.HandleFunc("GET /api/v1/data", c.handleBundle)
	mux.HandleFunc("GET /api/v1/data/{metric}", c.handleSeries)
	mux.HandleFunc("GET /api/v1/data/{metric}/{after}", c.handleSeries)
}
