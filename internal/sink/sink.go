// Package sink delivers closed speech segments to durable storage.
//
// A [Sink] receives every [pipeline.Segment] of a stream. The [Dispatcher]
// decouples sinks from the pipeline: it subscribes to segment events, queues
// them and writes them from its own goroutine so that pushing audio never
// waits on storage I/O. [FallbackSink] chains sinks behind circuit breakers.
//
// Implementations live in sub-packages: wavdir, pgstore and objectstore.
package sink

import (
	"context"
	"errors"

	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// DefaultStream is the stream id used when the context carries none.
const DefaultStream = "default"

// ErrNoAudio is returned by sinks that persist audio when a segment was
// captured without PCM.
var ErrNoAudio = errors.New("sink: segment carries no audio")

// Sink persists segments. Implementations must be safe for concurrent use:
// one sink is shared by every stream of the process.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Write persists seg. The stream the segment belongs to is available
	// through [StreamFromContext].
	Write(ctx context.Context, seg pipeline.Segment) error

	// Close releases the sink's resources.
	Close() error
}

// Pinger is implemented by sinks that can report their readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type streamKey struct{}

// ContextWithStream returns a copy of ctx carrying the stream id.
func ContextWithStream(ctx context.Context, stream string) context.Context {
	return context.WithValue(ctx, streamKey{}, stream)
}

// StreamFromContext returns the stream id carried by ctx, or [DefaultStream].
func StreamFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(streamKey{}).(string); ok && s != "" {
		return s
	}
	return DefaultStream
}

// Ping pings s if it implements [Pinger] and reports nil otherwise.
func Ping(ctx context.Context, s Sink) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
