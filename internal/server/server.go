// Package server wires the HTTP routes of the download service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/tunegrab/internal/errors"
	"github.com/3leaps/tunegrab/internal/server/handlers"
	"github.com/3leaps/tunegrab/internal/server/middleware"
)

// Server is the HTTP front end.
type Server struct {
	host   string
	port   int
	router *chi.Mux
	http   *http.Server
	logger *zap.Logger

	jobs     handlers.JobService
	settings handlers.SettingsService
	files    *handlers.FileHandlers

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJobs enables the /downloads routes.
func WithJobs(jobs handlers.JobService) Option {
	return func(s *Server) { s.jobs = jobs }
}

// WithSettings enables the /config routes.
func WithSettings(settings handlers.SettingsService) Option {
	return func(s *Server) { s.settings = settings }
}

// WithFiles enables the /files routes.
func WithFiles(files *handlers.FileHandlers) Option {
	return func(s *Server) { s.files = files }
}

// WithTimeouts sets the http.Server timeouts. Zero keeps the default.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// New builds a server listening on host:port.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	handlers.SetHTTPErrorResponder(handlers.LoggingResponder(s.logger))

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(middleware.Recovery)
	s.router.Use(middleware.CORS)
}

func (s *Server) setupRoutes() {
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.NewNotFound(fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path)))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.NewMethodNotAllowed(fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path)))
	})

	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)
	s.router.Get("/version", handlers.VersionHandler)

	if s.jobs != nil {
		h := handlers.NewDownloadHandlers(s.jobs, s.logger)
		s.router.Route("/downloads", func(r chi.Router) {
			r.Post("/", h.Submit)
			r.Get("/", h.List)
			r.Get("/{id}", h.Get)
			r.Delete("/{id}", h.Clear)
			r.Post("/{id}/cancel", h.Cancel)
		})
		// Single-path alias used by existing clients.
		s.router.Post("/download", h.Submit)
	}

	if s.settings != nil {
		h := handlers.NewSettingsHandlers(s.settings, s.logger)
		s.router.Get("/config", h.Get)
		s.router.Post("/config", h.Update)
	}

	if s.files != nil {
		s.router.Get("/files", s.files.List)
		s.router.Get("/files/*", s.files.Serve)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Start serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
