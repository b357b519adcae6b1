// Package mock provides a recording implementation of [pipeline.Stage] for
// use in unit tests.
//
// The mock records every lifecycle call so that tests can assert on call
// counts and the frames seen, and it exposes exported fields that the test
// can set to control returned errors and to hook extra behaviour into Setup
// and Handle.
//
// Typical usage:
//
//	st := &mock.Stage{StageName: "vad"}
//	p := pipeline.New()
//	_ = p.Use(st)
//	_ = p.Push(frame)
//	// st.Frames now holds frame
package mock

import (
	"sync"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Stage is a mock implementation of [pipeline.Stage], [pipeline.Flusher]
// and [pipeline.TearDowner].
type Stage struct {
	mu sync.Mutex

	// StageName is returned by Name. Defaults to "mock".
	StageName string

	// SetupError is returned by Setup.
	SetupError error

	// HandleError is returned by Handle.
	HandleError error

	// FlushError is returned by Flush.
	FlushError error

	// TeardownError is returned by Teardown.
	TeardownError error

	// OnSetup, if set, is called by Setup with the stage context after the
	// call is recorded. Use it to subscribe to events.
	OnSetup func(ctx *pipeline.StageContext)

	// OnHandle, if set, is called by Handle with the stage context of the
	// most recent Setup. Use it to emit events.
	OnHandle func(ctx *pipeline.StageContext, f audio.Frame)

	// Contexts records the context passed to each Setup call.
	Contexts []*pipeline.StageContext

	// Frames records every frame passed to Handle.
	Frames []audio.Frame

	// CallCountSetup records how many times Setup was called.
	CallCountSetup int

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	// CallCountTeardown records how many times Teardown was called.
	CallCountTeardown int
}

var (
	_ pipeline.Stage      = (*Stage)(nil)
	_ pipeline.Flusher    = (*Stage)(nil)
	_ pipeline.TearDowner = (*Stage)(nil)
)

// Name implements [pipeline.Stage].
func (s *Stage) Name() string {
	if s.StageName == "" {
		return "mock"
	}
	return s.StageName
}

// Setup implements [pipeline.Stage].
func (s *Stage) Setup(ctx *pipeline.StageContext) error {
	s.mu.Lock()
	s.CallCountSetup++
	s.Contexts = append(s.Contexts, ctx)
	hook, err := s.OnSetup, s.SetupError
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(ctx)
	}
	return nil
}

// Handle implements [pipeline.Stage].
func (s *Stage) Handle(f audio.Frame) error {
	s.mu.Lock()
	s.Frames = append(s.Frames, f)
	hook, err := s.OnHandle, s.HandleError
	var ctx *pipeline.StageContext
	if n := len(s.Contexts); n > 0 {
		ctx = s.Contexts[n-1]
	}
	s.mu.Unlock()
	if hook != nil && ctx != nil {
		hook(ctx, f)
	}
	return err
}

// Flush implements [pipeline.Flusher].
func (s *Stage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFlush++
	return s.FlushError
}

// Teardown implements [pipeline.TearDowner].
func (s *Stage) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountTeardown++
	return s.TeardownError
}

// FrameCount returns the number of frames handled so far.
func (s *Stage) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}
