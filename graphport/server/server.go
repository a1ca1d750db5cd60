// Package server exposes exports and imports over HTTP.
//
// Routes:
//
//	GET  /export/{type}/{id}  download the archive of one entity
//	POST /import              upload an archive and replay it
//	GET  /metrics             prometheus metrics
//	GET  /health              liveness
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/arthur-debert/graphport/graphport/export"
	imports "github.com/arthur-debert/graphport/graphport/import"
	"github.com/arthur-debert/graphport/graphport/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxUploadSize caps import uploads when no limit is configured.
const DefaultMaxUploadSize = 256 << 20

// Server holds the HTTP dependencies.
type Server struct {
	exporter      *export.Exporter
	planner       *imports.Planner
	importOptions imports.ImportOptions
	obfuscate     []string
	scratchDir    string
	maxUploadSize int64
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithImportOptions sets the defaults that upload form values override.
func WithImportOptions(o imports.ImportOptions) Option {
	return func(s *Server) { s.importOptions = o }
}

// WithObfuscate sets patterns applied to every export on top of the
// request's own.
func WithObfuscate(patterns ...string) Option {
	return func(s *Server) { s.obfuscate = patterns }
}

// WithScratchDir sets where uploads and unpacked bundles are kept.
func WithScratchDir(dir string) Option {
	return func(s *Server) { s.scratchDir = dir }
}

// WithMaxUploadSize limits the size of an import upload in bytes.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) { s.maxUploadSize = n }
}

// WithMetrics sets the registry served on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server.
func New(exporter *export.Exporter, planner *imports.Planner, opts ...Option) *Server {
	s := &Server{
		exporter:      exporter,
		planner:       planner,
		importOptions: imports.DefaultImportOptions(),
		scratchDir:    os.TempDir(),
		maxUploadSize: DefaultMaxUploadSize,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)
	r.Get("/export/{type}/{id}", s.Export)
	r.Post("/import", s.Import)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting graphport server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down graphport server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
