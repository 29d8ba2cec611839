package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"plantmon-server/internal/config"
)

func NewServer(cfg config.Config, mux *http.ServeMux, logger *slog.Logger) *http.Server {
	var h http.Handler = mux
	h = withCORS(cfg.CORSAllowedOrigins, h)
	h = requestLogger(logger, h)
	h = withRequestID(h)

	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
}
