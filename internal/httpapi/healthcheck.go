package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"plantmon-server/internal/utils"
)

const healthTimeout = 2 * time.Second

// BrokerStatus is satisfied by the MQTT subscriber.
type BrokerStatus interface {
	IsConnected() bool
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	db     *sql.DB
	broker BrokerStatus
}

// NewHealthchecker reports database reachability. broker may be nil when MQTT
// ingest is disabled; its state is informational and never fails the check.
func NewHealthchecker(db *sql.DB, broker BrokerStatus) healthchecker {
	return &healthcheckerImpl{db: db, broker: broker}
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}

	mqttState := "disabled"
	if h.broker != nil {
		mqttState = "disconnected"
		if h.broker.IsConnected() {
			mqttState = "connected"
		}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "mqtt": mqttState})
}

func registerHealthcheck(mux *http.ServeMux, db *sql.DB, broker BrokerStatus) {
	healthchecker := NewHealthchecker(db, broker)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
