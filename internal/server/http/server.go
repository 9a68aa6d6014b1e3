// Package httpserver provides the HTTP REST API for the paper radar service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-radar-service/internal/database"
	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/queue"
	"github.com/helixir/paper-radar-service/internal/radar"
)

// TaskService is the task queue as used by the API.
type TaskService interface {
	Upload(ctx context.Context, req queue.UploadRequest) (*domain.Task, error)
	Get(ctx context.Context, id uuid.UUID, owner string) (*domain.Task, error)
	List(ctx context.Context, owner string, limit int) ([]*domain.Task, error)
	Delete(ctx context.Context, id uuid.UUID, owner string) error
}

// RadarService is the scan orchestrator as used by the API.
type RadarService interface {
	Trigger(trigger string) error
	Status() radar.Status
}

// HealthChecker reports database health.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	tasks      TaskService
	radar      RadarService
	db         HealthChecker
	validate   *validator.Validate
	maxUpload  int64
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// MaxUploadBytes caps an uploaded document.
	MaxUploadBytes int64
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, tasks TaskService, radar RadarService, db HealthChecker, logger zerolog.Logger) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = queue.DefaultMaxUploadBytes
	}
	s := &Server{
		tasks:     tasks,
		radar:     radar,
		db:        db,
		validate:  validator.New(),
		maxUpload: maxUpload,
		logger:    logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestLogger)

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/radar", func(r chi.Router) {
			r.Post("/scan", s.triggerScan)
			r.Get("/status", s.radarStatus)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Use(ownerMiddleware)

			r.Post("/", s.uploadTask)
			r.Get("/", s.listTasks)
			r.Get("/{taskID}", s.getTask)
			r.Delete("/{taskID}", s.deleteTask)
		})
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports liveness. It does not touch the database.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports readiness, which requires a reachable database.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
