package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/fraudguard/internal/config"
)

// Server is the HTTP front of the evaluation service.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer wires the handlers into a routed server. apiKey guards the
// /api/v1 routes; empty disables authentication (dev mode).
func NewServer(cfg config.ServerConfig, h *Handlers, apiKey string) *Server {
	return &Server{
		config:  cfg,
		handler: SetupRoutes(h, apiKey),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.GetHost(), s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
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

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
