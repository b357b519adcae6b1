// Package server exposes voxseg over HTTP.
//
// Routes:
//
//	GET /v1/stream  websocket ingest, one segmented stream per connection
//	GET /healthz    liveness probe
//	GET /readyz     readiness probe (sink checks, draining)
//	GET /metrics    Prometheus exposition, when a handler is configured
//
// Every route runs behind [observe.Middleware] and [observe.Recover].
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/voxseg/internal/app"
	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/internal/health"
	"github.com/MrWong99/voxseg/internal/observe"
)

// Timeouts.
const (
	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout = 15 * time.Second

	// ReadHeaderTimeout bounds reading request headers.
	ReadHeaderTimeout = 5 * time.Second
)

// Server serves the voxseg HTTP surface for an [app.App].
type Server struct {
	app            *app.App
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	defaults       config.StreamConfig
	eventBuffer    int
	log            *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the HTTP middleware.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth replaces the health handler. By default it checks the sinks
// of the app.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithStreamDefaults sets the input format used when a client omits the
// query parameters.
func WithStreamDefaults(c config.StreamConfig) Option {
	return func(s *Server) { s.defaults = c }
}

// WithEventBuffer sets how many outgoing event messages are buffered per
// connection before new ones are dropped. Default [DefaultEventBuffer].
func WithEventBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New returns a server for a.
func New(a *app.App, opts ...Option) *Server {
	s := &Server{
		app:         a,
		defaults:    a.Config().Stream,
		eventBuffer: DefaultEventBuffer,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New(a.Checkers()...)
	}
	return s
}

// Health returns the health handler, for example to mark the server as
// draining.
func (s *Server) Health() *health.Handler { return s.health }

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.health.Register(mux)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	return observe.Recover(observe.Middleware(s.metrics)(mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then marks the
// server as draining and shuts it down gracefully. Request contexts derive
// from ctx, so open streams end and flush when ctx is cancelled. With a
// non-nil tlsCfg the server speaks HTTPS.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tlsCfg *config.TLSConfig) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, tlsCfg)
}

// Serve is like [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, tlsCfg *config.TLSConfig) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
		if tlsCfg != nil {
			errCh <- srv.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	s.health.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error()})
}
