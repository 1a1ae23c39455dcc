// Package api serves the attendance service over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rebootcamp/attendsync/internal/attendance"
	"github.com/rebootcamp/attendsync/internal/logging"
	"github.com/rebootcamp/attendsync/internal/metrics"
	"github.com/rebootcamp/attendsync/internal/remote"
)

// MaxRequestBytes bounds request bodies.
const MaxRequestBytes = 1 << 20

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Service *attendance.Service
	// Store is the local database, checked by /readyz.
	Store Pinger
	// Remote is optional. An unreachable remote degrades readiness but does
	// not fail it: writes still land locally.
	Remote remote.Pinger
	Logger *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("component", "api")
	deps.Logger = logger

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the route table.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{svc: deps.Service, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(RequestSizeLimitMiddleware(MaxRequestBytes))
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(deps.Logger))

	r.Get("/healthz", HandleHealthz())
	r.Get("/readyz", HandleReadyz(deps.Store, deps.Remote))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkins", h.handleCheckIn)
		r.Post("/checkouts", h.handleCheckout)
		r.Get("/records", h.handleRecords)
		r.Delete("/records/{id}", h.handleDelete)
		r.Get("/checked-in", h.handleCheckedIn)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/flush", h.handleFlush)
			r.Post("/retry", h.handleRetry)
			r.Get("/queue", h.handleQueue)
		})
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// RequestSizeLimitMiddleware limits request body size.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.written {
		rw.statusCode = statusCode
		rw.written = true
		rw.ResponseWriter.WriteHeader(statusCode)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Probes and scrapes are too frequent to log.
			if strings.HasPrefix(r.URL.Path, "/healthz") ||
				strings.HasPrefix(r.URL.Path, "/readyz") ||
				strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.NewRequestID()
			}
			ctx := logging.WithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Request-ID", requestID)

			log := logging.FromContext(ctx, logger)
			log.Debug("Request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			log.Info("Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration_ms", duration.Milliseconds())
		})
	}
}
