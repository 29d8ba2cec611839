package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"plantmon-server/internal/config"
	db "plantmon-server/internal/db"
	httpapi "plantmon-server/internal/httpapi"
	"plantmon-server/internal/migrate"
	metrics "plantmon-server/internal/modules/metrics"
	"plantmon-server/internal/mqtt"
)

const (
	mqttConnectTimeout = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

// Run starts the store, MQTT ingest and HTTP API, and blocks until ctx is
// cancelled or the HTTP server fails.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"corsOrigins", cfg.CORSAllowedOrigins,
		"dbDriver", cfg.DBDriver,
		"sqlitePath", cfg.SQLitePath,
		"dbMaxOpenConns", cfg.DBMaxOpenConns,
		"dbMaxIdleConns", cfg.DBMaxIdleConns,
		"dbConnMaxLifetime", cfg.DBConnMaxLifetime,
		"dbLogSQL", cfg.DBLogSQL,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
	)

	dbConn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, dbConn, logger); err != nil {
		return err
	}
	logger.Info("database ready")

	// The message handler must be set before Connect: the broker can deliver
	// queued messages right after CONNACK.
	var (
		subscriber *mqtt.Subscriber
		ingest     mqtt.MQTTSubscriber
		broker     httpapi.BrokerStatus
	)
	if cfg.MQTTEnabled {
		subscriber = mqtt.NewSubscriber(cfg, logger)
		ingest, broker = subscriber, subscriber
	}

	mux := httpapi.NewMux(dbConn, broker)
	metrics.RegisterFeature(mux, dbConn, ingest, logger)

	if subscriber != nil {
		connectCtx, connectCancel := context.WithTimeout(ctx, mqttConnectTimeout)
		err = subscriber.Connect(connectCtx)
		connectCancel()
		if err != nil {
			// HTTP and /healthz keep working; paho keeps retrying the connect.
			logger.Warn("mqtt not connected yet (retrying in background)", "error", err)
		}
	}

	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if subscriber != nil {
			subscriber.Disconnect()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if subscriber != nil {
		logger.Info("mqtt disconnecting")
		subscriber.Disconnect()
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
