// Package core provides the API chassis for the ReviewPulse subscription
// service: a chi router with cross-cutting middleware (request IDs, panic
// recovery, structured request logging), response envelopes, request
// validation, and health probing. Domain handlers are mounted on top.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reviewpulse/internal/config"
)

// Server encapsulates the API dependencies, allowing injection during testing
// and distinct configuration per environment.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the base middleware chain.
// The caller mounts domain routes via Mount after construction.
func NewServer(cfg *config.Config, logger *slog.Logger, probes ...HealthProbe) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:       cfg,
		Logger:       logger,
		Validator:    NewValidator(logger),
		HealthProbes: probes,
		router:       chi.NewRouter(),
	}

	s.router.Use(s.Recoverer)
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(logger, []string{"Authorization"}))

	s.router.Get("/healthz", s.HandleHealth)

	return s, nil
}

// Mount registers domain routes under the given pattern.
func (s *Server) Mount(pattern string, fn func(r chi.Router)) {
	s.router.Route(pattern, fn)
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}
