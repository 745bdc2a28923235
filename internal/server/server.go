// Package server provides the status HTTP server that runs alongside
// long removal jobs (rm --status-addr). It exposes health probes, build
// version, and live removal progress.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/goscour/internal/errors"
	"github.com/3leaps/goscour/internal/server/handlers"
	"github.com/3leaps/goscour/internal/server/middleware"
)

// adminTokenEnv guards the admin signal endpoint. When unset, the
// endpoint is not registered at all.
const adminTokenEnv = "GOSCOUR_ADMIN_TOKEN"

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 120 * time.Second
)

// Server is the status HTTP server.
type Server struct {
	host   string
	port   int
	router chi.Router
	srv    *http.Server

	// OnSignal is invoked with the requested signal name when the admin
	// endpoint receives a valid request. Set before Start.
	OnSignal func(signal string)
}

// New creates a status server bound to host:port.
func New(host string, port int) *Server {
	s := &Server{
		host: host,
		port: port,
	}
	s.router = s.buildRouter()
	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Start begins serving. It blocks until the server stops, returning
// nil on graceful shutdown.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(apperrors.NotFoundHandler)
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler)

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)
	r.Get("/progress", handlers.ProgressHandler)

	s.registerAdminEndpoint(r)

	return r
}

// registerAdminEndpoint adds POST /admin/signal when an admin token is
// configured. Without a token the route does not exist, so the surface
// stays read-only by default.
func (s *Server) registerAdminEndpoint(r chi.Router) {
	token := strings.TrimSpace(os.Getenv(adminTokenEnv))
	if token == "" {
		return
	}

	r.Post("/admin/signal", func(w http.ResponseWriter, req *http.Request) {
		auth := req.Header.Get("Authorization")
		if auth != "Bearer "+token {
			apperrors.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token", nil)
			return
		}

		var body struct {
			Signal string `json:"signal"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Signal == "" {
			apperrors.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "body must be {\"signal\": \"stop\"}", nil)
			return
		}

		if s.OnSignal != nil {
			s.OnSignal(body.Signal)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "signal": body.Signal})
	})
}
