// Package http exposes the read-only operational surface: health, metrics,
// run history, the artifact tree, and a websocket stream of pipeline events.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/persistence"
	"github.com/demandcast/demandcast/internal/pipeline"
	"github.com/demandcast/demandcast/internal/telemetry"
)

// Server serves the operational endpoints. Runs may be nil: run history then
// falls back to scanning run_log.json files under ArtifactsDir.
type Server struct {
	router *mux.Router
	server *http.Server

	metrics      *telemetry.Metrics
	bus          *pipeline.Bus
	runs         persistence.RunRepo
	artifactsDir string
}

// Options configures the server's data sources.
type Options struct {
	Addr         string
	Metrics      *telemetry.Metrics
	Bus          *pipeline.Bus
	Runs         persistence.RunRepo
	ArtifactsDir string
}

// NewServer builds the router and returns an unstarted server.
func NewServer(opts Options) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		metrics:      opts.Metrics,
		bus:          opts.Bus,
		runs:         opts.Runs,
		artifactsDir: opts.ArtifactsDir,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	s.router.HandleFunc("/api/runs", s.handleRuns).Methods("GET")
	if s.bus != nil {
		s.router.HandleFunc("/ws/events", s.handleEvents).Methods("GET")
	}
	if s.artifactsDir != "" {
		s.router.PathPrefix("/artifacts/").Handler(
			http.StripPrefix("/artifacts/", http.FileServer(http.Dir(s.artifactsDir))))
	}
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey{}).(string)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// Start blocks until the server stops. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
