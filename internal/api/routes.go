package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router      *mux.Router
	handlers    *Handlers
	rateLimiter *PerIPRateLimiter
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRateLimiter enables per-IP rate limiting on all routes.
func WithRateLimiter(rl *PerIPRateLimiter) ServerOption {
	return func(s *Server) { s.rateLimiter = rl }
}

// NewServer creates a new API server with the given handlers.
func NewServer(h *Handlers, opts ...ServerOption) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// mux runs Use middleware only on matched routes, so every route lists
	// OPTIONS explicitly; CORS preflight would otherwise 405 before the
	// middleware sees it.

	// Health endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET", "OPTIONS")

	// Prometheus metrics
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET", "OPTIONS")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Diagram management
	api.HandleFunc("/graphs", s.handlers.CreateGraph).Methods("POST", "OPTIONS")
	api.HandleFunc("/graphs", s.handlers.ListGraphs).Methods("GET", "OPTIONS")
	api.HandleFunc("/graphs/validate", s.handlers.ValidateGraph).Methods("POST", "OPTIONS")
	api.HandleFunc("/graphs/{id}", s.handlers.GetGraph).Methods("GET", "OPTIONS")
	api.HandleFunc("/graphs/{id}", s.handlers.UpdateGraph).Methods("PUT", "OPTIONS")
	api.HandleFunc("/graphs/{id}", s.handlers.DeleteGraph).Methods("DELETE", "OPTIONS")

	// Simulation management
	api.HandleFunc("/simulations", s.handlers.CreateSim).Methods("POST", "OPTIONS")
	api.HandleFunc("/simulations", s.handlers.ListSims).Methods("GET", "OPTIONS")
	api.HandleFunc("/simulations/{id}", s.handlers.GetSim).Methods("GET", "OPTIONS")
	api.HandleFunc("/simulations/{id}", s.handlers.DeleteSim).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/simulations/{id}/start", s.handlers.StartSim).Methods("POST", "OPTIONS")
	api.HandleFunc("/simulations/{id}/stop", s.handlers.StopSim).Methods("POST", "OPTIONS")
	api.HandleFunc("/simulations/{id}/graph", s.handlers.UpdateSimGraph).Methods("PUT", "OPTIONS")
	api.HandleFunc("/simulations/{id}/events", s.handlers.StreamEvents).Methods("GET", "OPTIONS")

	// SimStore diagnostics
	api.HandleFunc("/simstore/info", s.handlers.SimStoreInfo).Methods("GET", "OPTIONS")

	// Apply middleware
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RecoveryMiddleware)
	if s.rateLimiter != nil {
		s.router.Use(s.rateLimiter.Handler)
	}
}
