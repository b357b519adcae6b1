package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Dispatcher defaults.
const (
	DefaultQueueSize    = 32
	DefaultWriteTimeout = 30 * time.Second
)

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithQueueSize bounds the number of segments waiting to be written.
// Values below 1 keep the default.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single write to all sinks.
func WithWriteTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.writeTimeout = t
		}
	}
}

// WithStreamID sets the stream id passed to sinks. Default [DefaultStream].
func WithStreamID(id string) DispatcherOption {
	return func(d *Dispatcher) { d.stream = id }
}

// WithMetrics sets the metrics recorder. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher writes the segments of one stream to a set of sinks from a
// background goroutine. Segments are written in emission order; each segment
// is written to all sinks concurrently. When the queue is full the newest
// segment is dropped and counted.
type Dispatcher struct {
	sinks        []Sink
	queueSize    int
	writeTimeout time.Duration
	stream       string
	metrics      *observe.Metrics
	log          *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan pipeline.Segment
	done   chan struct{}
}

// NewDispatcher starts a dispatcher writing to sinks. Writes run under ctx
// with the stream id attached; cancelling ctx aborts in-flight writes.
// The caller must call [Dispatcher.Close].
func NewDispatcher(ctx context.Context, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:        sinks,
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
		stream:       DefaultStream,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.log = d.log.With("stream", d.stream)
	d.queue = make(chan pipeline.Segment, d.queueSize)
	d.done = make(chan struct{})

	go d.run(ContextWithStream(ctx, d.stream))
	return d
}

// Attach subscribes the dispatcher to the segment events of bus.
func (d *Dispatcher) Attach(bus *pipeline.Bus) (detach func()) {
	return pipeline.Subscribe(bus, func(seg pipeline.Segment) { d.Enqueue(seg) })
}

// Enqueue queues seg for writing without blocking. It reports false when
// the segment was dropped because the queue is full or the dispatcher is
// closed.
func (d *Dispatcher) Enqueue(seg pipeline.Segment) bool {
	if len(d.sinks) == 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warn("sink: segment after close dropped", "segment", seg.ID)
		return false
	}
	select {
	case d.queue <- seg:
		return true
	default:
		d.metrics.SinkQueueDropped.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("stream", d.stream)))
		d.log.Warn("sink: queue full, segment dropped",
			"segment", seg.ID,
			"queue_size", d.queueSize,
		)
		return false
	}
}

// Close stops accepting segments and waits until the queued ones are
// written or ctx is done. It does not close the sinks.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sink: drain queue: %w", ctx.Err())
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for seg := range d.queue {
		d.write(ctx, seg)
	}
}

// write hands seg to every sink. Failures are logged and recorded; a
// failing sink does not prevent the others from receiving the segment.
func (d *Dispatcher) write(ctx context.Context, seg pipeline.Segment) {
	ctx, cancel := context.WithTimeout(ctx, d.writeTimeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range d.sinks {
		g.Go(func() error {
			ctx, span := observe.StartSpan(ctx, "sink.write", trace.WithAttributes(
				attribute.String("sink", s.Name()),
				attribute.String("segment", seg.ID),
				attribute.String("stream", d.stream),
			))
			defer span.End()

			start := time.Now()
			err := s.Write(ctx, seg)
			d.metrics.RecordSinkWrite(ctx, s.Name(), time.Since(start).Seconds(), err)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				observe.WithTrace(ctx, d.log).Error("sink: write failed",
					"sink", s.Name(),
					"segment", seg.ID,
					"err", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
