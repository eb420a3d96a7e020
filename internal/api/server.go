package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"

	"github.com/star/passcast/internal/auth"
	"github.com/star/passcast/internal/health"
	"github.com/star/passcast/internal/httputil"
	"github.com/star/passcast/internal/metrics"
	"github.com/star/passcast/internal/propagation"
	"github.com/star/passcast/internal/schedule"
	"github.com/star/passcast/internal/stream"
	"github.com/star/passcast/internal/tle"
)

// Config holds the HTTP surface configuration.
type Config struct {
	Addr        string
	Auth        auth.Config
	TLE         TLEConfig
	Passes      PassConfig
	CORSOrigins []string // default: any origin
	TrustProxy  bool     // take client IPs from X-Forwarded-For
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	config   Config
	loader   *tle.Loader
	store    *tle.Store
	prop     *propagation.Propagator
	schedule *schedule.Schedule
	now      func() time.Time
}

// NewServer creates a configured HTTP server. sched and streams may be nil,
// in which case their routes answer 503 and 404 respectively.
func NewServer(cfg Config, logger *slog.Logger, loader *tle.Loader, prop *propagation.Propagator, sched *schedule.Schedule, streams *stream.Handler) *Server {
	cfg.Passes = cfg.Passes.withDefaults()
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	s := &Server{
		logger:   logger,
		config:   cfg,
		loader:   loader,
		store:    loader.Store(),
		prop:     prop,
		schedule: sched,
		now:      time.Now,
	}

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(s.store.Ready))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/passes/{norad_id}", s.handlePasses)
	mux.HandleFunc("GET /api/v1/passes", s.handlePassesMulti)
	mux.HandleFunc("GET /api/v1/sky", s.handleSky)
	mux.HandleFunc("GET /api/v1/schedule", s.handleSchedule)
	mux.HandleFunc("GET /api/v1/tle/metadata", s.handleTLEMetadata)
	mux.HandleFunc("POST /api/v1/tle/fetch", s.handleTLEFetch)
	if streams != nil {
		mux.HandleFunc("GET /api/v1/stream/sky", streams.HandleSky)
	}

	// Build middleware chain: metrics -> logging -> recovery -> CORS -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth)(handler)
	handler = handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		handlers.ExposedHeaders([]string{requestIDHeader}),
	)(handler)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger}),
		handlers.PrintRecoveryStack(true),
	)(handler)
	handler = loggingMiddleware(logger, cfg.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Long pass windows over many satellites and upstream TLE fetches
		// both run inside the request.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// recoveryLogger routes gorilla's panic reports into slog.
type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("panic recovered", "component", "api", "panic", fmt.Sprint(v...))
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

const requestIDHeader = "X-Request-ID"

// requestID keeps a caller-supplied UUID so ids line up across hops, and
// mints one otherwise.
func requestID(r *http.Request) string {
	if id, err := uuid.Parse(r.Header.Get(requestIDHeader)); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := requestID(r)
			w.Header().Set(requestIDHeader, id)
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
