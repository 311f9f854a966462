package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cornd/internal/config"
	"github.com/sawpanic/cornd/internal/interfaces/http/handlers"
	"github.com/sawpanic/cornd/internal/net/ratelimit"
)

// Server is the HTTP front of the corn API.
type Server struct {
	router     *mux.Router
	server     *http.Server
	handlers   *handlers.Handlers
	metrics    *MetricsRegistry
	floodGuard *ratelimit.Limiter
	config     config.ServerSection
}

// NewServer wires the router, middleware chain, and endpoints.
// floodGuard may be nil to disable request shedding.
func NewServer(cfg config.ServerSection, h *handlers.Handlers, metrics *MetricsRegistry, floodGuard *ratelimit.Limiter) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		handlers:   h,
		metrics:    metrics,
		floodGuard: floodGuard,
		config:     cfg,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
		IdleTimeout:  cfg.IdleTimeout.Std(),
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.floodGuardMiddleware)

	// OPTIONS is registered so preflights reach the CORS middleware
	// instead of mux's method-mismatch handler.
	api.HandleFunc("/buy-corn", s.handlers.BuyCorn).Methods("POST", "OPTIONS")
	api.HandleFunc("/stats/{clientId}", s.handlers.ClientStats).Methods("GET", "OPTIONS")

	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.router.NotFoundHandler = s.withCORS(http.HandlerFunc(s.handlers.NotFound))
}

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// requestLoggingMiddleware logs all requests and feeds the duration histogram
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.URL.Path, wrapper.statusCode, duration.Seconds())
		}

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// corsMiddleware adds CORS headers for the storefront origin
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return s.withCORS(next)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.config.CORSOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-client-id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// floodGuardMiddleware sheds per-client request floods before they
// reach the store. Distinct from the purchase window policy: this only
// bounds request throughput.
func (s *Server) floodGuardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.floodGuard == nil {
			next.ServeHTTP(w, r)
			return
		}

		clientID := handlers.ClientIdentity(r)
		if clientID != "" && !s.floodGuard.Allow(clientID) {
			if s.metrics != nil {
				s.metrics.FloodShedTotal.Inc()
			}
			retry := int(s.floodGuard.RetryIn(clientID).Seconds()) + 1
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"Too Many Requests","message":"Request rate too high. Please slow down.","retryAfter":%d}`, retry)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Address returns the configured listen address
func (s *Server) Address() string {
	return s.server.Addr
}

// Router exposes the mux router for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
