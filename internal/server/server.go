// Package server provides the HTTP surface of the trading engine.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/di"
	markethandlers "github.com/tkomnos/stealthtrader/internal/modules/market_hours/handlers"
	positionhandlers "github.com/tkomnos/stealthtrader/internal/modules/positions/handlers"
	riskhandlers "github.com/tkomnos/stealthtrader/internal/modules/risk/handlers"
	tradinghandlers "github.com/tkomnos/stealthtrader/internal/modules/trading/handlers"
	universehandlers "github.com/tkomnos/stealthtrader/internal/modules/universe/handlers"
)

// Config holds server configuration.
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
	Port      int
}

// Server is the HTTP server. It only reads engine state through the
// container's accessors; mutations beyond the token and safe-mode
// endpoints are not exposed.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       *config.Config
	container *di.Container
	status    *statusHandler
	startedAt time.Time
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("module", "server").Logger(),
		cfg:       cfg.Config,
		container: cfg.Container,
		startedAt: time.Now(),
	}
	s.status = newStatusHandler(cfg.Config, cfg.Container, s.startedAt)

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	c := s.container

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.status.handleStatus)

	universeHandler := universehandlers.NewHandler(c.Watchlist, c.Selector, c.Builder, s.log)
	positionHandler := positionhandlers.NewHandler(c.Monitor, s.log)
	tradeHandler := tradinghandlers.NewHandler(c.Journal, s.log)
	riskHandler := riskhandlers.NewHandler(c.RiskManager, c.SafeMode, c.MarketData, s.log)
	marketHandler := markethandlers.NewHandler(c.MarketHours, c.Clock, s.log)
	tokenHandler := newTokenHandler(c.TokenManager, s.log)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/build-watchlist", universeHandler.HandleBuildWatchlist)
		r.Get("/universe", universeHandler.HandleGetUniverse)
		r.Get("/positions", positionHandler.HandleGetPositions)
		r.Get("/trades", tradeHandler.HandleGetTrades)
		r.Get("/risk/status", riskHandler.HandleGetStatus)
		r.Post("/safe-mode/clear", riskHandler.HandleClearSafeMode)
		r.Get("/market/status", marketHandler.HandleGetStatus)
		r.Get("/market/phase", marketHandler.HandleGetPhase)
		r.Post("/tokens", tokenHandler.handleSetTokens)
	})
}

// handleHealth reports process liveness. The host's probes hit this.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
