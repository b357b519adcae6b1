// Command voxseg is the entry point of the voxseg speech segmentation service.
//
// Without -input it serves the websocket ingest endpoint until SIGINT or
// SIGTERM. With -input it segments one WAV or raw PCM16 file (or stdin) and
// prints one JSON line per segment to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxseg/internal/app"
	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	input := flag.String("input", "", "segment this file (or - for stdin) once and exit")
	format := flag.String("format", formatWAV, "input format of -input: wav or pcm16")
	stream := flag.String("stream", "cli", "stream id used for -input")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxseg: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxseg: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(level)
	slog.SetDefault(logger)

	slog.Info("voxseg starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Error reporting ───────────────────────────────────────────────────────
	flushSentry, err := observe.InitSentry(observe.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Environment:      cfg.Sentry.Environment,
		Release:          version,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
	})
	if err != nil {
		slog.Error("failed to initialise sentry", "err", err)
		return 1
	}
	defer flushSentry()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{app.WithMetrics(metrics), app.WithLogger(logger)}
	if cfg.Sentry.DSN != "" {
		opts = append(opts, app.WithReporter(observe.NewErrorReporter(nil)))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	// ── One-shot file mode ────────────────────────────────────────────────────
	if *input != "" {
		if err := segmentInput(ctx, application, *input, *format, *stream, os.Stdout); err != nil {
			slog.Error("segmentation failed", "input", *input, "err", err)
			return 1
		}
		return 0
	}

	printStartupSummary(cfg, application)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
		diff, err := application.ApplyConfig(next)
		if err != nil {
			slog.Error("config reload failed", "err", err)
		}
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
	}, config.WithWatcherLogger(logger))
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(application,
		server.WithMetrics(metrics),
		server.WithMetricsHandler(tel.MetricsHandler),
		server.WithLogger(logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.ListenAddr, cfg.Server.TLS)
	})

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	return 0
}

// printStartupSummary writes a human-readable summary of the service
// configuration to stdout.
func printStartupSummary(cfg *config.Config, a *app.App) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxseg startup summary         ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("VAD engine", string(cfg.VAD.Engine))
	printRow("Input", fmt.Sprintf("%d Hz / %d ch", cfg.Stream.SampleRate, cfg.Stream.Channels))
	printRow("Meter", map[bool]string{true: "enabled", false: "(disabled)"}[cfg.Meter.Enabled])
	sinks := a.Sinks()
	if len(sinks) == 0 {
		printRow("Sinks", "(none)")
	}
	for _, s := range sinks {
		printRow("Sink", s.Name())
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
