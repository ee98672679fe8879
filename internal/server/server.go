package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/xhspub/internal/app"
)

// Server serves the publish intake, status surface, event stream and MCP endpoint
type Server struct {
	app    *app.App
	server *http.Server
}

func New(application *app.App) *Server {
	s := &Server{app: application}

	cfg := application.Config.Server
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.withMiddleware(s.setupRoutes()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       90 * time.Second,
		// no WriteTimeout: /ws and MCP streams stay open
	}
	return s
}

// Handler returns the router with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start blocks serving until Shutdown is called
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Str("publish", fmt.Sprintf("http://%s/publish", s.server.Addr)).
		Str("events", fmt.Sprintf("ws://%s/ws", s.server.Addr)).
		Str("mcp", fmt.Sprintf("http://%s/mcp", s.server.Addr)).
		Msg("HTTP server listening")

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
// The queue worker is stopped separately by app.Close.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
