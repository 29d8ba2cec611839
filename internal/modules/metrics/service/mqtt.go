package service

import (
	"context"
	"log/slog"

	"plantmon-server/internal/modules/metrics/types"
	"plantmon-server/internal/mqtt"
)

// RegisterMQTT routes sensor telemetry into CreateMetric.
func (s *Service) RegisterMQTT(subscriber mqtt.MQTTSubscriber) {
	registerMQTTHandler(subscriber, s, s.logger)
}

func registerMQTTHandler(subscriber mqtt.MQTTSubscriber, svc *Service, logger *slog.Logger) {
	subscriber.SetMessageHandler(func(ctx context.Context, telemetry mqtt.Telemetry) error {
		logger.Debug("processing telemetry message", "sensor_id", telemetry.SensorID)

		rec, err := svc.CreateMetric(ctx, types.MetricInput{
			Temperature:  *telemetry.Temperature,
			Humidity:     *telemetry.Humidity,
			Light:        *telemetry.Light,
			SoilMoisture: *telemetry.SoilMoisture,
		})
		if err != nil {
			logger.Error("failed to insert metric",
				"sensor_id", telemetry.SensorID,
				"error", err,
			)
			return err
		}

		logger.Debug("successfully stored telemetry",
			"sensor_id", telemetry.SensorID,
			"id", rec.ID,
		)
		return nil
	})
}
