package pipeline

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxseg/pkg/audio"
)

// Stage is a unit of frame processing attached to a [Pipeline].
//
// Setup is called when the stage is attached and again whenever the pipeline
// is reinitialised, so it must (re)build all per-run state. Handle is called
// once per pushed frame, in attachment order, on the pipeline's goroutine.
// Stages must not assume Handle calls correspond to real time; all timing
// decisions derive from frame timestamps.
//
// A Handle error propagates out of [Pipeline.Push] unchanged in meaning.
// Reserve errors for faults that leave the stage in a state where continuing
// would be unsafe; report recoverable problems as [CoreError] events instead.
type Stage interface {
	Name() string
	Setup(ctx *StageContext) error
	Handle(frame audio.Frame) error
}

// Flusher is implemented by stages that hold partial state which must be
// finalised at end of stream.
type Flusher interface {
	Flush() error
}

// TearDowner is implemented by stages that hold buffers or state to release
// when they are detached or the pipeline is disposed.
type TearDowner interface {
	Teardown() error
}

// StageContext is the set of pipeline bindings handed to [Stage.Setup].
// Subscriptions made through [On] belong to the context and are released by
// the pipeline when the stage is torn down, reinitialised or replaced. Once
// released, Emit on the context is a no-op.
type StageContext struct {
	p        *Pipeline
	stage    string
	logger   *slog.Logger
	unsubs   []func()
	released bool
}

func newStageContext(p *Pipeline, stage string) *StageContext {
	return &StageContext{
		p:      p,
		stage:  stage,
		logger: p.logger.With("stage", stage),
	}
}

// Emit publishes ev on the pipeline bus.
func (c *StageContext) Emit(ev Event) {
	if c.released {
		return
	}
	c.p.bus.Emit(ev)
}

// Now returns the pipeline clock.
func (c *StageContext) Now() time.Duration { return c.p.clock() }

// NewID returns a fresh identifier from the pipeline's generator.
func (c *StageContext) NewID() string { return c.p.newID() }

// Logger returns the pipeline logger annotated with the stage name.
func (c *StageContext) Logger() *slog.Logger { return c.logger }

// Events returns the pipeline bus. Subscriptions made directly on the bus
// are not tracked by the context; prefer [On].
func (c *StageContext) Events() *Bus { return c.p.bus }

// On subscribes fn to events of type E on behalf of the stage that owns ctx.
// The returned function unsubscribes early; otherwise the subscription lives
// until the pipeline releases the context.
func On[E Event](ctx *StageContext, fn func(E)) (unsubscribe func()) {
	if ctx.released {
		return func() {}
	}
	unsub := Subscribe(ctx.p.bus, fn)
	ctx.unsubs = append(ctx.unsubs, unsub)
	return unsub
}

// release drops every subscription made through the context.
func (c *StageContext) release() {
	if c.released {
		return
	}
	c.released = true
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}
