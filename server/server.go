// Package server exposes the auth core over HTTP: the OAuth callback
// endpoint, login initiation, logout, and session management. Every
// response from the callback is a redirect; no UI is rendered here.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/storefront-labs/authcore/authflow"
	"github.com/storefront-labs/authcore/internal/config"
	"github.com/storefront-labs/authcore/sessionsec"
)

// Server is the HTTP surface over the auth core services.
type Server struct {
	router    chi.Router
	config    *config.Config
	callbacks *authflow.CallbackService
	hardening *sessionsec.Hardening
	log       zerolog.Logger
}

// New builds the server and its routes.
func New(cfg *config.Config, callbacks *authflow.CallbackService, hardening *sessionsec.Hardening, log zerolog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("[server.New] config is required")
	}
	if callbacks == nil {
		return nil, errors.New("[server.New] callback service is required")
	}
	if hardening == nil {
		return nil, errors.New("[server.New] hardening service is required")
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		callbacks: callbacks,
		hardening: hardening,
		log:       log,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/auth/login", s.LoginHandler())
	s.router.Get("/auth/callback", s.CallbackHandler())
	s.router.Post("/auth/logout", s.LogoutHandler())
	s.router.Get("/auth/sessions", s.SessionsHandler())
	s.router.Post("/auth/sessions/revoke-others", s.RevokeOtherSessionsHandler())
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
