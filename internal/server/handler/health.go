package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Checker probes one dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// Ping calls f.
func (f CheckerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks  map[string]Checker
	clients func() int
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks are probed on every
// request; clients reports the websocket subscriber count and may be nil.
func NewHealthHandler(checks map[string]Checker, clients func() int, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, clients: clients, logger: logger}
}

// HealthCheck reports liveness and per-dependency status. A failing
// dependency degrades the status but still answers 200; the service keeps
// serving without its cache.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			h.logger.Warn("health check failed", slog.String("dependency", name), slog.String("error", err.Error()))
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":       status,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"dependencies": deps,
	}
	if h.clients != nil {
		body["ws_clients"] = h.clients()
	}
	writeJSON(w, http.StatusOK, body)
}
