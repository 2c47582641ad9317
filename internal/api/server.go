// Package api exposes the dashboard's HTTP surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/live"
	"github.com/opensource-finance/kestrel/internal/score"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(
	cfg domain.ServerConfig,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	aggregator *live.Aggregator,
	stream domain.StreamClient,
	w *worker.Worker,
	ext *score.Extension,
	version string,
) *Server {
	handler := NewHandler(repo, cache, bus, aggregator, stream, w, ext, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Live dashboard views
	router.Route("/live", func(r chi.Router) {
		r.Get("/feed", handler.LiveFeed)
		r.Get("/timeline", handler.LiveTimeline)
		r.Get("/patterns", handler.LivePatterns)
		r.Get("/age-segments", handler.LiveAgeSegments)
		r.Get("/stats", handler.LiveStats)
	})

	// Stream monitor control
	router.Post("/monitor/start", handler.StartMonitor)
	router.Post("/monitor/stop", handler.StopMonitor)

	// Transactions
	router.Post("/transactions/process", handler.ProcessTransaction)
	router.Get("/transactions", handler.ListTransactions)
	router.Get("/transactions/stats", handler.TransactionStats)
	router.Get("/transactions/{id}", handler.GetTransaction)

	// Notifications
	router.Get("/notifications", handler.ListNotifications)
	router.Put("/notifications/{id}/read", handler.MarkNotificationRead)

	// Score extension rules
	router.Get("/rules", handler.ListRules)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
