package metrics

import (
	"database/sql"
	"log/slog"
	"net/http"

	"plantmon-server/internal/modules/metrics/controller"
	"plantmon-server/internal/modules/metrics/repository"
	"plantmon-server/internal/modules/metrics/service"
	"plantmon-server/internal/mqtt"
)

// RegisterFeature wires the metrics store to HTTP and, when subscriber is
// non-nil, to MQTT ingest.
func RegisterFeature(mux *http.ServeMux, db *sql.DB, subscriber mqtt.MQTTSubscriber, logger *slog.Logger) *service.Service {
	metricsRepository := repository.NewRepository(db)
	metricsService := service.NewService(metricsRepository, logger)
	if subscriber != nil {
		metricsService.RegisterMQTT(subscriber)
	}
	metricsController := controller.NewMetricsController(metricsService, logger)
	metricsController.RegisterRoutes(mux)
	return metricsService
}
