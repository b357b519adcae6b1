package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/internal/sink"
	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// ErrStreamClosed is returned by [Host] methods after [Host.Close].
var ErrStreamClosed = errors.New("app: stream closed")

// Host owns the pipeline of one stream. The pipeline itself is not safe for
// concurrent use; Host serialises every call into it so that sources, the
// websocket reader and config reloads can share one stream.
type Host struct {
	id      string
	reg     *config.Registry
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	p      *pipeline.Pipeline
	closed bool

	detach    []func()
	disp      *sink.Dispatcher
	closeOnce sync.Once
	onClose   func()
}

// ID returns the stream id.
func (h *Host) ID() string { return h.id }

// Events returns the event bus of the stream. Handlers run on the goroutine
// that pushes frames and must not block or call back into the Host.
func (h *Host) Events() *pipeline.Bus { return h.p.Events() }

// Stages returns the currently attached stages.
func (h *Host) Stages() []pipeline.Stage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.p.Stages()
}

// Push hands one frame to the pipeline. A stage failure is also reported on
// the bus as a [pipeline.CodeStageFailed] error event.
func (h *Host) Push(f audio.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrStreamClosed
	}
	if err := h.p.Push(f); err != nil {
		h.p.Events().Emit(pipeline.CoreError{
			Code:    pipeline.CodeStageFailed,
			Message: "push failed",
			Cause:   err,
		})
		return err
	}
	return nil
}

// Flush closes any open segment.
func (h *Host) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrStreamClosed
	}
	return h.p.Flush()
}

// ReportDecodeError publishes a [pipeline.CodeDecodeFailed] error event for
// input the source could not decode. The stream continues.
func (h *Host) ReportDecodeError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.p.Events().Emit(pipeline.CoreError{
		Code:    pipeline.CodeDecodeFailed,
		Message: "could not decode input",
		Cause:   err,
	})
}

// Run starts src and pushes every frame it produces until the source ends,
// ctx is cancelled or a push fails. With autoFlush the open segment is
// closed once the source ended cleanly. The source is always stopped before
// Run returns.
func (h *Host) Run(ctx context.Context, src audio.Source, autoFlush bool) (err error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		if stopErr := src.Stop(); stopErr != nil {
			h.log.Warn("app: stop source", "err", stopErr)
			if err == nil {
				err = fmt.Errorf("app: stop source: %w", stopErr)
			}
		}
	}()

	var (
		errMu   sync.Mutex
		pushErr error
	)
	startErr := src.Start(runCtx, func(f audio.Frame) {
		if runCtx.Err() != nil {
			return
		}
		if err := h.Push(f); err != nil {
			errMu.Lock()
			if pushErr == nil {
				pushErr = err
			}
			errMu.Unlock()
			// Stop must not be called from inside the handler.
			cancel()
		}
	})

	errMu.Lock()
	perr := pushErr
	errMu.Unlock()
	switch {
	case perr != nil:
		return fmt.Errorf("app: stream %s: %w", h.id, perr)
	case startErr != nil:
		return fmt.Errorf("app: stream %s: source: %w", h.id, startErr)
	}

	if autoFlush {
		if err := h.Flush(); err != nil {
			return fmt.Errorf("app: stream %s: flush: %w", h.id, err)
		}
	}
	return nil
}

// Apply reconfigures the running stream from cfg. Detector tuning is applied
// in place; structural changes close the open segment and replace the stage
// list.
func (h *Host) Apply(cfg *config.Config, diff config.ConfigDiff) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrStreamClosed
	}

	switch {
	case diff.PipelineChanged:
		stages, err := buildStages(h.reg, cfg, h.metrics, h.id)
		if err != nil {
			return err
		}
		if err := h.p.Flush(); err != nil {
			h.log.Warn("app: flush before reconfigure", "err", err)
		}
		if err := h.p.Configure(stages...); err != nil {
			return fmt.Errorf("app: stream %s: reconfigure: %w", h.id, err)
		}
		h.log.Info("app: pipeline rebuilt", "engine", cfg.VAD.Engine, "stages", len(stages))
	case diff.VADTuned:
		for _, s := range h.p.Stages() {
			ok, err := retune(s, cfg.VAD)
			if err != nil {
				return fmt.Errorf("app: stream %s: retune %s: %w", h.id, s.Name(), err)
			}
			if ok {
				h.log.Debug("app: vad retuned", "stage", s.Name())
				break
			}
		}
	}
	return nil
}

// Close flushes the open segment, disposes the pipeline and waits for
// queued segments to be written until ctx expires. Calling Close more than
// once is a no-op.
func (h *Host) Close(ctx context.Context) error {
	var err error
	h.closeOnce.Do(func() {
		var errs []error
		h.mu.Lock()
		if ferr := h.p.Flush(); ferr != nil {
			errs = append(errs, fmt.Errorf("flush: %w", ferr))
		}
		if derr := h.p.Dispose(); derr != nil {
			errs = append(errs, fmt.Errorf("dispose: %w", derr))
		}
		h.closed = true
		h.mu.Unlock()

		for _, d := range h.detach {
			d()
		}
		if cerr := h.disp.Close(ctx); cerr != nil {
			errs = append(errs, fmt.Errorf("drain sinks: %w", cerr))
		}
		h.metrics.ActiveStreams.Add(context.Background(), -1, metric.WithAttributes(observe.Attr("stream", h.id)))
		if h.onClose != nil {
			h.onClose()
		}
		h.log.Debug("app: stream closed")
		if len(errs) > 0 {
			err = fmt.Errorf("app: close stream %s: %w", h.id, errors.Join(errs...))
		}
	})
	return err
}
