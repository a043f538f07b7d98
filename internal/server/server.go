// Package server is the HTTP boundary of the service: the submission
// endpoint that feeds the dispatcher, and the WebSocket endpoint that
// exposes the broadcast hub to live subscribers.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pushbeam/backend/internal/config"
	"github.com/pushbeam/backend/internal/dispatch"
	"github.com/pushbeam/backend/internal/hub"
	"github.com/pushbeam/backend/internal/middleware"
)

// Server wires the gateway endpoints to the pipeline components.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	hub        *hub.Hub
	httpServer *http.Server
}

// New creates a Server with all routes and middleware registered.
func New(cfg *config.Config, dispatcher *dispatch.Dispatcher, h *hub.Hub) *Server {
	s := &Server{cfg: cfg, dispatcher: dispatcher, hub: h}

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed separately so tests can mount it
// on an httptest server.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.CORSMiddleware(s.cfg.AllowedOrigins))

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.RateLimitMiddleware(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst))
	api.HandleFunc("/notifications", s.handleSubmit).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/notifications/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/ws/notifications", s.handleWS).Methods(http.MethodGet)

	return r
}

// ListenAndServe starts serving and blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
