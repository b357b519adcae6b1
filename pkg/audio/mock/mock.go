// Package mock provides an in-memory mock implementation of [audio.Source]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and it exposes exported fields that the
// test can set to control the frames delivered and the errors returned.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Frames: []audio.Frame{
//	        {PCM: make([]int16, 160), SampleRate: 16000, Channels: 1},
//	    },
//	}
//	err := src.Start(ctx, func(f audio.Frame) { ... })
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxseg/pkg/audio"
)

// Source is a mock implementation of [audio.Source]. Start delivers Frames
// in order and then returns StartError. Stop returns StopError.
type Source struct {
	mu sync.Mutex

	// Frames are delivered by Start, in order.
	Frames []audio.Frame

	// StartError is returned by Start after all frames have been delivered.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// Block, when non-nil, makes Start wait on it after delivering Frames.
	// Start returns early if ctx is cancelled or Stop is called.
	Block chan struct{}

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// Delivered counts frames handed to the handler.
	Delivered int

	stopped chan struct{}
	running bool
}

var _ audio.Source = (*Source)(nil)

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context, fn audio.FrameHandler) error {
	s.mu.Lock()
	s.CallCountStart++
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopped = make(chan struct{})
	stopped := s.stopped
	frames := s.Frames
	block := s.Block
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for _, f := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopped:
			return nil
		default:
		}
		fn(f)
		s.mu.Lock()
		s.Delivered++
		s.mu.Unlock()
	}

	if block != nil {
		select {
		case <-block:
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartError
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if s.running && s.stopped != nil {
		select {
		case <-s.stopped:
		default:
			close(s.stopped)
		}
	}
	return s.StopError
}

// Counts returns the Start and Stop call counts under the lock.
func (s *Source) Counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStart, s.CallCountStop
}
