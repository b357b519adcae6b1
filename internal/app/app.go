// Package app wires the voxseg subsystems into a running service.
//
// The App owns the segment sinks and every active stream: New builds the
// sinks from the config, NewStream creates one [Host] per audio stream, and
// Shutdown closes the streams before the sinks they write to.
//
// For testing, inject sinks, metrics and a registry via functional options
// (WithSinks, WithMetrics, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/internal/health"
	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/internal/sink"
	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// DrainTimeout bounds how long [App.RunSource] waits for queued segments to
// be written after the source ended.
const DrainTimeout = 30 * time.Second

var (
	// ErrShuttingDown is returned by [App.NewStream] once Shutdown started.
	ErrShuttingDown = errors.New("app: shutting down")

	// ErrStreamExists is returned by [App.NewStream] for an id in use.
	ErrStreamExists = errors.New("app: stream already active")
)

// App owns the sinks and streams of a voxseg process.
type App struct {
	reg      *config.Registry
	metrics  *observe.Metrics
	reporter *observe.ErrorReporter
	log      *slog.Logger
	pipeOpts []pipeline.Option

	sinks []sink.Sink

	// writeCtx outlives individual streams; cancelled after they drained.
	writeCtx    context.Context
	cancelWrite context.CancelFunc

	mu       sync.Mutex
	cfg      *config.Config
	streams  map[string]*Host
	draining bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the factory registry. Defaults to a registry populated
// by [RegisterDefaults].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithSinks injects sinks instead of creating them from cfg.Sinks. Injected
// sinks are not closed by Shutdown.
func WithSinks(sinks ...sink.Sink) Option {
	return func(a *App) { a.sinks = sinks }
}

// WithMetrics sets the metrics instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithReporter forwards the error events of every stream to r.
func WithReporter(r *observe.ErrorReporter) Option {
	return func(a *App) { a.reporter = r }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithPipelineOptions appends options to every stream pipeline, for example a
// deterministic clock or id generator in tests.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(a *App) { a.pipeOpts = append(a.pipeOpts, opts...) }
}

// New creates an App from cfg. Sinks are opened synchronously; ctx bounds
// their connection setup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		streams: make(map[string]*Host),
	}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
		RegisterDefaults(a.reg)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	// Fail early on a config the registry cannot build.
	if _, err := buildStages(a.reg, cfg, nil, sink.DefaultStream); err != nil {
		return nil, err
	}

	if a.sinks == nil {
		sinks, err := buildSinks(ctx, a.reg, cfg.Sinks.Targets, a.metrics)
		if err != nil {
			return nil, err
		}
		a.sinks = sinks
		for _, s := range sinks {
			a.closers = append(a.closers, s.Close)
			a.log.Info("sink ready", "sink", s.Name())
		}
	}

	a.writeCtx, a.cancelWrite = context.WithCancel(context.WithoutCancel(ctx))
	return a, nil
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Sinks returns the sinks every stream writes to.
func (a *App) Sinks() []sink.Sink { return slices.Clone(a.sinks) }

// Streams returns the ids of the active streams in sorted order.
func (a *App) Streams() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Sorted(maps.Keys(a.streams))
}

// Stream returns the active stream with the given id.
func (a *App) Stream(id string) (*Host, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.streams[id]
	return h, ok
}

// NewStream creates the pipeline for a new stream and attaches metrics, error
// reporting and the sink dispatcher to it. An empty id selects a random one.
// The caller must call [Host.Close].
func (a *App) NewStream(id string) (*Host, error) {
	if id == "" {
		id = uuid.NewString()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draining {
		return nil, ErrShuttingDown
	}
	if _, ok := a.streams[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, id)
	}
	cfg := a.cfg

	stages, err := buildStages(a.reg, cfg, a.metrics, id)
	if err != nil {
		return nil, err
	}

	log := a.log.With("stream", id)
	popts := []pipeline.Option{pipeline.WithLogger(log)}
	if cfg.Pipeline.QueueCapacity > 0 {
		popts = append(popts, pipeline.WithQueueCapacity(cfg.Pipeline.QueueCapacity))
	}
	p := pipeline.New(append(popts, a.pipeOpts...)...)

	dopts := []sink.DispatcherOption{
		sink.WithStreamID(id),
		sink.WithMetrics(a.metrics),
		sink.WithLogger(a.log),
	}
	if cfg.Sinks.QueueSize > 0 {
		dopts = append(dopts, sink.WithQueueSize(cfg.Sinks.QueueSize))
	}

	h := &Host{
		id:      id,
		reg:     a.reg,
		metrics: a.metrics,
		log:     log,
		p:       p,
		disp:    sink.NewDispatcher(a.writeCtx, a.sinks, dopts...),
	}
	bus := p.Events()
	h.detach = append(h.detach,
		observe.WatchErrors(bus, a.metrics, id),
		pipeline.Subscribe(bus, func(e pipeline.CoreError) {
			log.Warn("pipeline error", "code", e.Code, "err", e)
		}),
		h.disp.Attach(bus),
	)
	if a.reporter != nil {
		h.detach = append(h.detach, a.reporter.Attach(bus, id))
	}

	if err := p.Use(stages...); err != nil {
		for _, d := range h.detach {
			d()
		}
		_ = p.Dispose()
		_ = h.disp.Close(context.Background())
		return nil, fmt.Errorf("app: stream %s: setup: %w", id, err)
	}

	h.onClose = func() {
		a.mu.Lock()
		delete(a.streams, id)
		a.mu.Unlock()
	}
	a.streams[id] = h
	a.metrics.ActiveStreams.Add(context.Background(), 1, metric.WithAttributes(observe.Attr("stream", id)))
	log.Debug("stream opened", "stages", len(stages))
	return h, nil
}

// RunSource segments one source on a new stream and closes the stream when
// the source ends, waiting up to [DrainTimeout] for its segments to be
// written.
func (a *App) RunSource(ctx context.Context, id string, src audio.Source) error {
	h, err := a.NewStream(id)
	if err != nil {
		return err
	}
	runErr := h.Run(ctx, src, true)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DrainTimeout)
	defer cancel()
	return errors.Join(runErr, h.Close(closeCtx))
}

// ApplyConfig makes cfg the active configuration and reconfigures every
// running stream. New streams always use the latest config. Sections that
// cannot change at runtime are only logged.
func (a *App) ApplyConfig(cfg *config.Config) (config.ConfigDiff, error) {
	a.mu.Lock()
	old := a.cfg
	a.cfg = cfg
	hosts := slices.Collect(maps.Values(a.streams))
	a.mu.Unlock()

	diff := config.Diff(old, cfg)
	if len(diff.RestartRequired) > 0 {
		a.log.Warn("config change requires restart", "sections", strings.Join(diff.RestartRequired, ", "))
	}
	if !diff.VADTuned && !diff.PipelineChanged {
		return diff, nil
	}

	var errs []error
	for _, h := range hosts {
		if err := h.Apply(cfg, diff); err != nil && !errors.Is(err, ErrStreamClosed) {
			errs = append(errs, err)
		}
	}
	a.log.Info("config applied",
		"streams", len(hosts),
		"vad_tuned", diff.VADTuned,
		"pipeline_changed", diff.PipelineChanged,
	)
	return diff, errors.Join(errs...)
}

// Checkers returns a readiness check for every sink that can be pinged.
func (a *App) Checkers() []health.Checker {
	var out []health.Checker
	for _, s := range a.sinks {
		if _, ok := s.(sink.Pinger); !ok {
			continue
		}
		out = append(out, health.Checker{
			Name:  "sink:" + s.Name(),
			Check: func(ctx context.Context) error { return sink.Ping(ctx, s) },
		})
	}
	return out
}

// Shutdown refuses new streams, closes the active ones concurrently, then
// runs the closers in order. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.draining = true
		hosts := slices.Collect(maps.Values(a.streams))
		a.mu.Unlock()

		a.log.Info("shutting down", "streams", len(hosts), "closers", len(a.closers))

		var g errgroup.Group
		for _, h := range hosts {
			g.Go(func() error { return h.Close(ctx) })
		}
		if err := g.Wait(); err != nil {
			a.log.Warn("stream close error", "err", err)
		}
		a.cancelWrite()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
