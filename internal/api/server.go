package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/launch-control/lcc/internal/audit"
	"github.com/launch-control/lcc/internal/auth"
	"github.com/launch-control/lcc/internal/config"
)

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server

	supervisor SupervisorPort
	hub        TelemetryPort
	vehicles   VehicleReadPort
	audit      *audit.Logger
	authMW     *auth.Middleware

	cfg       config.ServerConfig
	startTime time.Time
}

// NewServer creates an API server. authMW may be nil to run the API open
// (bench and test use); auditLog may be nil to skip action auditing.
func NewServer(sup SupervisorPort, hub TelemetryPort, vehicles VehicleReadPort, auditLog *audit.Logger, authMW *auth.Middleware, cfg config.ServerConfig) *Server {
	return &Server{
		supervisor: sup,
		hub:        hub,
		vehicles:   vehicles,
		audit:      auditLog,
		authMW:     authMW,
		cfg:        cfg,
		startTime:  time.Now(),
	}
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
