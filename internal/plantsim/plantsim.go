// Package plantsim generates plausible plant sensor readings and publishes
// them over MQTT. It stands in for real sensor nodes during development.
package plantsim

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"plantmon-server/internal/mqtt"
)

// TelemetryPublisher is satisfied by *mqtt.Publisher.
type TelemetryPublisher interface {
	PublishTelemetry(ctx context.Context, sensorID string, t mqtt.Telemetry) error
}

// Plant is the random-walk state of one simulated sensor.
type Plant struct {
	ID           string
	Temperature  float64
	Humidity     float64
	Light        float64
	SoilMoisture float64
}

// NewPlant starts a sensor at indoor defaults.
func NewPlant(id string) *Plant {
	return &Plant{ID: id, Temperature: 21, Humidity: 50, Light: 400, SoilMoisture: 600}
}

// Step advances the plant by one sample and returns it as telemetry. Values
// stay within sensor ranges: humidity 0-100, light 0-4095, soil 0-1023.
func (p *Plant) Step(rng *rand.Rand) mqtt.Telemetry {
	p.Temperature = clamp(p.Temperature+rng.NormFloat64()*0.2, -10, 50)
	p.Humidity = clamp(p.Humidity+rng.NormFloat64()*0.5, 0, 100)
	p.Light = clamp(p.Light+rng.NormFloat64()*25, 0, 4095)
	// Soil dries slowly and is occasionally watered.
	p.SoilMoisture = clamp(p.SoilMoisture-rng.Float64()*2, 0, 1023)
	if p.SoilMoisture < 200 && rng.IntN(10) == 0 {
		p.SoilMoisture = 800
	}

	temp := float32(math.Round(p.Temperature*100) / 100)
	hum := float32(math.Round(p.Humidity*10) / 10)
	light := int32(math.Round(p.Light))
	soil := int32(math.Round(p.SoilMoisture))
	return mqtt.Telemetry{
		SensorID:     p.ID,
		Temperature:  &temp,
		Humidity:     &hum,
		Light:        &light,
		SoilMoisture: &soil,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Run publishes one reading per plant every interval until ctx is done.
// Publish failures are logged and the loop continues.
func Run(ctx context.Context, pub TelemetryPublisher, plants []*Plant, interval time.Duration, rng *rand.Rand, logger *slog.Logger) error {
	if len(plants) == 0 {
		return errors.New("plantsim: no plants")
	}
	if interval <= 0 {
		return errors.New("plantsim: interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, p := range plants {
			t := p.Step(rng)
			if err := pub.PublishTelemetry(ctx, p.ID, t); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("publish failed", "sensor_id", p.ID, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
