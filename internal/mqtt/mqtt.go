package mqtt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"plantmon-server/internal/config"
	"plantmon-server/internal/utils"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// handlerTimeout bounds the store work done for a single message.
const handlerTimeout = 5 * time.Second

// Telemetry is a reading published by a plant sensor. All four measurements
// are required; the server assigns the recorded time on insert.
type Telemetry struct {
	SensorID     string   `json:"sensor_id,omitempty"`
	Temperature  *float32 `json:"temperature"`
	Humidity     *float32 `json:"humidity"`
	Light        *int32   `json:"light"`
	SoilMoisture *int32   `json:"soil_moisture"`
}

// MessageHandler is called for each valid telemetry message.
type MessageHandler func(ctx context.Context, telemetry Telemetry) error

// MQTTSubscriber interface for attaching message handlers
type MQTTSubscriber interface {
	SetMessageHandler(handler MessageHandler)
}

type Subscriber struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	handlerMu sync.RWMutex
	handler   MessageHandler
}

// SetMessageHandler sets the message handler for telemetry messages
func (s *Subscriber) SetMessageHandler(handler MessageHandler) {
	s.handlerMu.Lock()
	s.handler = handler
	s.handlerMu.Unlock()
}

func NewSubscriber(cfg config.Config, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
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

	// Resubscribe on every (re)connect; a clean session drops subscriptions.
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		if err := s.subscribe(); err != nil {
			logger.Error("mqtt subscribe failed", "topic", cfg.MQTTTopic, "error", err)
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Connect establishes connection to the MQTT broker. The topic subscription is
// made by the connect handler. If ctx ends first the error is returned but the
// client keeps retrying in the background until Disconnect.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}
}

func (s *Subscriber) subscribe() error {
	topic := s.cfg.MQTTTopic
	qos := byte(1) // At least once delivery

	token := s.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	telemetry, err := decodeTelemetry(payload)
	if err != nil {
		s.logger.Warn("failed to parse telemetry message",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}

	if telemetry.SensorID == "" {
		telemetry.SensorID = sensorFromTopic(s.cfg.MQTTTopic, topic)
	}

	if err := validateTelemetry(telemetry); err != nil {
		s.logger.Warn("invalid telemetry message",
			"topic", topic,
			"sensor_id", telemetry.SensorID,
			"error", err,
		)
		return
	}

	s.handlerMu.RLock()
	handler := s.handler
	s.handlerMu.RUnlock()
	if handler == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := handler(ctx, telemetry); err != nil {
		s.logger.Error("message handler failed",
			"topic", topic,
			"sensor_id", telemetry.SensorID,
			"error", err,
		)
		return
	}
	s.logger.Debug("processed telemetry message", "topic", topic, "sensor_id", telemetry.SensorID)
}

func decodeTelemetry(payload []byte) (Telemetry, error) {
	var t Telemetry
	if err := utils.DecodeStrict(bytes.NewReader(payload), &t); err != nil {
		return Telemetry{}, err
	}
	return t, nil
}

func validateTelemetry(t Telemetry) error {
	switch {
	case t.Temperature == nil:
		return fmt.Errorf("temperature is required")
	case t.Humidity == nil:
		return fmt.Errorf("humidity is required")
	case t.Light == nil:
		return fmt.Errorf("light is required")
	case t.SoilMoisture == nil:
		return fmt.Errorf("soil_moisture is required")
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.MQTTTopic)
		token.WaitTimeout(2 * time.Second)
	}

	// Disconnect without holding s.mu to avoid lock contention/deadlocks.
	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
