package httpapi

import (
	"database/sql"
	"net/http"
)

// NewMux returns a mux serving /healthz. Feature modules register their own
// routes on it. Pass a nil broker when MQTT is disabled.
func NewMux(db *sql.DB, broker BrokerStatus) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, broker)
	return mux
}
