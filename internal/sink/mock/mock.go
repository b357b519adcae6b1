// Package mock provides a recording implementation of [sink.Sink] for use in
// unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxseg/internal/sink"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Sink is a mock implementation of [sink.Sink] and [sink.Pinger]. All
// methods are safe for concurrent use.
type Sink struct {
	mu sync.Mutex

	// SinkName is returned by Name. Defaults to "mock".
	SinkName string

	// WriteError is returned by Write. The segment is recorded regardless.
	WriteError error

	// PingError is returned by Ping.
	PingError error

	// CloseError is returned by Close.
	CloseError error

	// Block, when non-nil, makes Write wait on it or on ctx.
	Block chan struct{}

	// OnWrite, if set, is called by Write after the segment is recorded.
	OnWrite func(ctx context.Context, seg pipeline.Segment)

	// Segments records every segment passed to Write.
	Segments []pipeline.Segment

	// Streams records the stream id of each Write call.
	Streams []string

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var (
	_ sink.Sink   = (*Sink)(nil)
	_ sink.Pinger = (*Sink)(nil)
)

// Name implements [sink.Sink].
func (s *Sink) Name() string {
	if s.SinkName == "" {
		return "mock"
	}
	return s.SinkName
}

// Write implements [sink.Sink].
func (s *Sink) Write(ctx context.Context, seg pipeline.Segment) error {
	s.mu.Lock()
	s.Segments = append(s.Segments, seg)
	s.Streams = append(s.Streams, sink.StreamFromContext(ctx))
	block, onWrite, err := s.Block, s.OnWrite, s.WriteError
	s.mu.Unlock()

	if onWrite != nil {
		onWrite(ctx, seg)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Ping implements [sink.Pinger].
func (s *Sink) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingError
}

// Close implements [sink.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// Written returns a copy of the recorded segments.
func (s *Sink) Written() []pipeline.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.Segment, len(s.Segments))
	copy(out, s.Segments)
	return out
}

// StreamIDs returns a copy of the recorded stream ids.
func (s *Sink) StreamIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Streams))
	copy(out, s.Streams)
	return out
}
