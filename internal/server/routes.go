package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /sessions", h.CreateSession)
	mux.HandleFunc("GET /sessions", h.ListSessions)
	mux.HandleFunc("GET /sessions/{id}", h.GetSession)
	mux.HandleFunc("POST /sessions/{id}/play", h.Play)
	mux.HandleFunc("POST /sessions/{id}/pause", h.Pause)
	mux.HandleFunc("POST /sessions/{id}/seek", h.Seek)
	mux.HandleFunc("POST /sessions/{id}/export", h.ExportFrame)
	mux.HandleFunc("DELETE /sessions/{id}", h.DeleteSession)

	mux.HandleFunc("POST /projects/{id}/prefetch", h.PrefetchProject)
	mux.HandleFunc("GET /cache/stats", h.CacheStats)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		MetricsMiddleware(),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
