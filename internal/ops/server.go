// Package ops serves each daemon's operational surface: a liveness probe,
// the Prometheus metrics endpoint and, on the hedger, a journal read-back.
// The server is read-only and optional; a daemon without a listen address
// runs headless.
package ops

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/persistence"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second

	defaultFillLimit = 100
	maxFillLimit     = 1000
)

// Server is the ops HTTP server for one daemon.
type Server struct {
	daemon string
	server *http.Server
}

// Option adds a route before the server starts.
type Option func(s *Server, router *mux.Router)

// FillReader is the journal slice the ops surface reads back.
type FillReader interface {
	RecentFills(ctx context.Context, limit int) ([]persistence.Fill, error)
}

// WithFills exposes the newest journal fills under GET /fills?limit=N.
func WithFills(src FillReader) Option {
	return func(s *Server, router *mux.Router) {
		router.HandleFunc("/fills", s.handleFills(src)).Methods(http.MethodGet)
	}
}

// NewServer builds an ops server for the named daemon, listening on addr and
// exposing reg under /metrics.
func NewServer(daemon, addr string, reg *metrics.Registry, opts ...Option) *Server {
	s := &Server{daemon: daemon}

	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", reg.Handler()).Methods(http.MethodGet)
	for _, opt := range opts {
		opt(s, router)
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	log.Info().Str("daemon", s.daemon).Str("addr", s.server.Addr).Msg("Ops server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

type healthResponse struct {
	Status string `json:"status"`
	Daemon string `json:"daemon"`
	Time   string `json:"time"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(healthResponse{
		Status: "ok",
		Daemon: s.daemon,
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFills(src FillReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultFillLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		if limit > maxFillLimit {
			limit = maxFillLimit
		}

		fills, err := src.RecentFills(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("Journal read failed")
			http.Error(w, "journal read failed", http.StatusInternalServerError)
			return
		}
		if fills == nil {
			fills = []persistence.Fill{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fills)
	}
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("Ops request")
	})
}
