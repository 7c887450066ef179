// Package server exposes the current-opportunity read path over HTTP and
// the live feed over a websocket endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/alanyoungcy/oddsarb/internal/server/handler"
	"github.com/alanyoungcy/oddsarb/internal/server/middleware"
	"github.com/alanyoungcy/oddsarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handlers aggregates the HTTP handlers the server registers. Odds and
// Passes may be nil; their routes are then not registered.
type Handlers struct {
	Health        *handler.HealthHandler
	Opportunities *handler.OpportunityHandler
	Odds          *handler.OddsHandler
	Passes        *handler.PassHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router and wraps it in an http.Server.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewRouter(cfg, handlers, hub, logger),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter registers every route.
//
//	GET /api/health
//	GET /api/opportunities?sport=&limit=&min_profit=
//	GET /api/opportunities/{id}
//	GET /api/odds?sport=
//	GET /api/events/{id}/odds
//	GET /api/passes?limit=
//	GET /ws
func NewRouter(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		if cfg.RateLimitRPS > 0 {
			r.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))
		}

		r.Get("/health", handlers.Health.HealthCheck)
		r.Get("/opportunities", handlers.Opportunities.List)
		r.Get("/opportunities/{id}", handlers.Opportunities.Get)
		if handlers.Odds != nil {
			r.Get("/odds", handlers.Odds.List)
			r.Get("/events/{id}/odds", handlers.Odds.Event)
		}
		if handlers.Passes != nil {
			r.Get("/passes", handlers.Passes.Recent)
		}
	})

	if hub != nil {
		r.Get("/ws", hub.Handler(cfg.CORSOrigins))
	}

	return r
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
