package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/internal/resilience"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// FallbackSink writes to the first healthy sink of an ordered list. Each
// entry sits behind its own circuit breaker, so a sink that keeps failing is
// skipped until its breaker probes it again.
type FallbackSink struct {
	group *resilience.FallbackGroup[Sink]
}

var (
	_ Sink   = (*FallbackSink)(nil)
	_ Pinger = (*FallbackSink)(nil)
)

// FallbackOption configures a [FallbackSink].
type FallbackOption func(*fallbackOptions)

type fallbackOptions struct {
	breaker resilience.CircuitBreakerConfig
	metrics *observe.Metrics
}

// WithBreaker sets the circuit breaker settings used for every entry.
func WithBreaker(cfg resilience.CircuitBreakerConfig) FallbackOption {
	return func(o *fallbackOptions) { o.breaker = cfg }
}

// WithBreakerMetrics records breaker transitions in m.
func WithBreakerMetrics(m *observe.Metrics) FallbackOption {
	return func(o *fallbackOptions) { o.metrics = m }
}

// NewFallbackSink returns a sink that writes to primary and, when it fails or
// its breaker is open, to each of fallbacks in turn.
func NewFallbackSink(primary Sink, fallbacks []Sink, opts ...FallbackOption) *FallbackSink {
	var o fallbackOptions
	for _, opt := range opts {
		opt(&o)
	}
	if m := o.metrics; m != nil {
		next := o.breaker.OnStateChange
		o.breaker.OnStateChange = func(name string, from, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
			if next != nil {
				next(name, from, to)
			}
		}
	}

	group := resilience.NewFallbackGroup(primary, primary.Name(), resilience.FallbackConfig{CircuitBreaker: o.breaker})
	for _, fb := range fallbacks {
		group.AddFallback(fb.Name(), fb)
	}
	return &FallbackSink{group: group}
}

// Name returns the name of the primary sink.
func (f *FallbackSink) Name() string { return f.group.Names()[0] }

// Write implements [Sink].
func (f *FallbackSink) Write(ctx context.Context, seg pipeline.Segment) error {
	err := f.group.Execute(ctx, func(ctx context.Context, s Sink) error {
		return s.Write(ctx, seg)
	})
	if err != nil {
		return fmt.Errorf("sink: %s: %w", f.Name(), err)
	}
	return nil
}

// Ping reports ready when at least one entry is ready.
func (f *FallbackSink) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range f.group.Values() {
		err := Ping(ctx, s)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return errors.Join(errs...)
}

// Close closes every entry.
func (f *FallbackSink) Close() error {
	var errs []error
	for _, s := range f.group.Values() {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
