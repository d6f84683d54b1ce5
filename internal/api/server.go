// Package api exposes geocoding jobs over HTTP and WebSocket, next to the
// health and metrics endpoints of the monitoring server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/geocoding"
	"github.com/UnknownOlympus/cartograph/internal/job"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds a request body; MaxRows rows fit comfortably.
const maxBodyBytes = 16 << 20

// ProviderTester probes every configured provider. *geocoding.Manager implements it.
type ProviderTester interface {
	TestAllProviders(ctx context.Context) []geocoding.ProviderStatus
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the geocoding API.
type Server struct {
	log      *slog.Logger
	runner   *job.Runner
	tester   ProviderTester
	gatherer prometheus.Gatherer
	db       Pinger
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes gatherer on /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = gatherer }
}

// WithDatabase makes /healthz ping db.
func WithDatabase(db Pinger) Option {
	return func(s *Server) { s.db = db }
}

// NewServer creates the API server.
func NewServer(log *slog.Logger, runner *job.Runner, tester ProviderTester, opts ...Option) *Server {
	s := &Server{
		log:    log,
		runner: runner,
		tester: tester,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Routes returns the HTTP handler of the server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/geocode", s.handleGeocode)
		r.Get("/geocode/stream", s.handleStream)
		r.Get("/providers/status", s.handleProviderStatus)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.DebugContext(r.Context(), "HTTP request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.log.DebugContext(ctx, "Performing health checks...")

	status, body := http.StatusOK, "OK"
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			status, body = http.StatusServiceUnavailable, "DB ping failed"
		}
	}

	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		s.log.ErrorContext(ctx, "failed to write reply", "error", err)
	}

	s.log.DebugContext(ctx, "Health checks completed", "status", status)
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodeRequest(w, r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	jb, err := s.runner.New(req)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := jb.Run(ctx, nil)
	status := http.StatusOK
	if errors.Is(err, geocoding.ErrNoProviders) {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, r, status, resp)
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"providers": s.tester.TestAllProviders(r.Context()),
	})
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (req models.GeocodeRequest, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %w", job.ErrInvalidRequest, err)
	}

	return req, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.ErrorContext(r.Context(), "failed to write reply", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.log.InfoContext(r.Context(), "Rejected geocode request", "error", err)
	s.writeJSON(w, r, status, map[string]string{"error": err.Error()})
}
