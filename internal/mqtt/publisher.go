package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"plantmon-server/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

// Publisher sends sensor telemetry to the broker, one topic per sensor.
type Publisher struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPublisher(cfg config.Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.Info("mqtt publisher connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect waits for the initial connection, honoring ctx and Disconnect.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publisher stopped")
	default:
	}
	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			p.setConnected(true)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return fmt.Errorf("publisher stopped")
		default:
		}
	}
}

// PublishTelemetry publishes t for sensorID on the topic derived from
// cfg.MQTTTopic.
func (p *Publisher) PublishTelemetry(ctx context.Context, sensorID string, t Telemetry) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt publisher not connected")
	}
	topic, err := TopicFor(p.cfg.MQTTTopic, sensorID)
	if err != nil {
		return err
	}
	t.SensorID = sensorID

	data, err := encodeTelemetry(t)
	if err != nil {
		return err
	}

	token := p.client.Publish(topic, 1, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("failed to publish telemetry", "topic", topic, "error", err)
		return fmt.Errorf("publish telemetry: %w", err)
	}

	p.logger.Debug("published telemetry", "topic", topic, "sensor_id", sensorID)
	return nil
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect is idempotent. After it, Connect fails.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	p.logger.Info("mqtt publisher disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func encodeTelemetry(t Telemetry) ([]byte, error) {
	if err := validateTelemetry(t); err != nil {
		return nil, err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal telemetry: %w", err)
	}
	return data, nil
}

// TopicFor fills the single-level wildcard of a subscription pattern with
// sensorID: "plants/+/metrics" becomes "plants/fern/metrics". A pattern
// without a wildcard is returned as is.
func TopicFor(pattern, sensorID string) (string, error) {
	if sensorID == "" || strings.ContainsAny(sensorID, "/+#") {
		return "", fmt.Errorf("invalid sensor id %q", sensorID)
	}
	if strings.Contains(pattern, "#") {
		return "", fmt.Errorf("topic pattern %q: multi-level wildcard cannot be published to", pattern)
	}
	return strings.Replace(pattern, "+", sensorID, 1), nil
}

// sensorFromTopic returns the topic level matched by the first "+" of
// pattern, or "" when the topic does not match.
func sensorFromTopic(pattern, topic string) string {
	pl := strings.Split(pattern, "/")
	tl := strings.Split(topic, "/")
	if len(pl) != len(tl) {
		return ""
	}
	sensor := ""
	for i := range pl {
		switch {
		case pl[i] == "+":
			if sensor == "" {
				sensor = tl[i]
			}
		case pl[i] != tl[i]:
			return ""
		}
	}
	return sensor
}
