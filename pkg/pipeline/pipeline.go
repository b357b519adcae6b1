// Package pipeline implements the streaming stage pipeline: an ordered list
// of [Stage] values that observe every pushed audio frame, and the typed
// event [Bus] they use to signal each other.
//
// Processing is synchronous: [Pipeline.Push] runs every stage's Handle to
// completion before returning, so an event emitted while handling frame N is
// observed by all other stages before frame N+1 is processed. Given the same
// frames and timestamps, a pipeline always produces the same events.
//
// A Pipeline is not safe for concurrent use. Hosts that feed it from several
// goroutines must serialise calls themselves.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxseg/pkg/audio"
)

// DefaultQueueCapacity is the number of frames buffered while no stages are
// attached.
const DefaultQueueCapacity = 64

// ErrDisposed is returned by operations on a disposed pipeline.
var ErrDisposed = errors.New("pipeline: disposed")

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithClock sets the clock stages read through [StageContext.Now]. The
// default clock is stream time: the end of the latest frame handed to the
// stages, so replaying the same frames yields the same timestamps.
func WithClock(now func() time.Duration) Option {
	return func(p *Pipeline) { p.clock = now }
}

// WithIDGenerator sets the identifier source for [StageContext.NewID].
// Defaults to random UUIDs.
func WithIDGenerator(newID func() string) Option {
	return func(p *Pipeline) { p.newID = newID }
}

// WithQueueCapacity sets how many frames are buffered while no stages are
// attached. Frames beyond the capacity are dropped. Values below zero are
// treated as zero.
func WithQueueCapacity(n int) Option {
	return func(p *Pipeline) { p.queueCap = max(0, n) }
}

// WithLogger sets the logger handed to stages. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

type attachedStage struct {
	stage Stage
	ctx   *StageContext
}

// Pipeline routes frames through an ordered list of stages.
type Pipeline struct {
	bus      *Bus
	clock    func() time.Duration
	newID    func() string
	logger   *slog.Logger
	queueCap int

	stages    []attachedStage
	pending   []audio.Frame
	dropped   int
	disposed  bool
	streamEnd time.Duration
}

// New creates a pipeline with no stages.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		bus:      NewBus(),
		newID:    uuid.NewString,
		logger:   slog.Default(),
		queueCap: DefaultQueueCapacity,
	}
	p.clock = p.streamTime
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) streamTime() time.Duration { return p.streamEnd }

// Events returns the pipeline's event bus.
func (p *Pipeline) Events() *Bus { return p.bus }

// Stages returns the attached stages in order.
func (p *Pipeline) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	for i, a := range p.stages {
		out[i] = a.stage
	}
	return out
}

// Pending returns the number of frames waiting for stages to be attached.
func (p *Pipeline) Pending() int { return len(p.pending) }

// Dropped returns how many frames were discarded because the pending queue
// was full.
func (p *Pipeline) Dropped() int { return p.dropped }

// Use sets up each stage and appends it to the pipeline. It stops at the
// first stage whose Setup fails; stages before it stay attached.
//
// Frames queued before any stage existed are replayed on the next Push or
// Flush, so that every stage attached by consecutive Use calls observes them.
func (p *Pipeline) Use(stages ...Stage) error {
	if p.disposed {
		return ErrDisposed
	}
	for _, s := range stages {
		if err := p.attach(s); err != nil {
			return err
		}
	}
	return nil
}

// Configure replaces the stage list: every current stage is torn down, the
// new stages are set up in order, and queued frames are replayed through
// them. Configure also revives a disposed pipeline.
//
// The swap is all or nothing. When a Setup fails, the new stages already set
// up are torn down again and the pipeline is left without stages, so pushed
// frames are queued until a later Configure succeeds. Teardown, setup and
// replay errors are joined.
func (p *Pipeline) Configure(stages ...Stage) error {
	var errs []error
	if !p.disposed {
		errs = append(errs, teardown(p.stages))
	}
	p.stages = nil
	p.disposed = false

	next := make([]attachedStage, 0, len(stages))
	for _, s := range stages {
		a, err := p.setup(s)
		if err != nil {
			errs = append(errs, err, teardown(next))
			return errors.Join(errs...)
		}
		next = append(next, a)
	}
	p.stages = next
	if len(p.stages) > 0 {
		errs = append(errs, p.replay())
	}
	return errors.Join(errs...)
}

// Push hands frame to every stage in order. With no stages attached the
// frame is queued instead; when the queue is full the frame is dropped and a
// [CodeQueueOverflow] error event is emitted.
//
// Push stops at the first failing stage and returns its error wrapped with
// the stage name. The pipeline performs no retry or rollback.
func (p *Pipeline) Push(frame audio.Frame) error {
	if p.disposed {
		return ErrDisposed
	}
	if len(p.stages) == 0 {
		p.enqueue(frame)
		return nil
	}
	if err := p.replay(); err != nil {
		return err
	}
	return p.dispatch(frame)
}

// Flush asks every [Flusher] stage, in order, to finalise partial state.
// Call it at end of stream.
func (p *Pipeline) Flush() error {
	if p.disposed {
		return ErrDisposed
	}
	if len(p.stages) == 0 {
		return nil
	}
	if err := p.replay(); err != nil {
		return err
	}
	for _, a := range p.stages {
		f, ok := a.stage.(Flusher)
		if !ok {
			continue
		}
		if err := f.Flush(); err != nil {
			return fmt.Errorf("pipeline: stage %q: flush: %w", a.stage.Name(), err)
		}
	}
	return nil
}

// Dispose tears down every stage in order, drops queued frames and makes the
// pipeline refuse further frames until [Pipeline.Configure] or
// [Pipeline.Reinitialize] is called. Every stage is torn down even if some
// fail; the errors are joined. Disposing twice is a no-op.
func (p *Pipeline) Dispose() error {
	if p.disposed {
		return nil
	}
	err := teardown(p.stages)
	p.pending = nil
	p.disposed = true
	return err
}

// Reinitialize runs Setup again on every current stage with a fresh context,
// without removing them. Subscriptions made through the previous contexts
// are released first. It is the way back from [Pipeline.Dispose] when the
// same stage instances are reused.
func (p *Pipeline) Reinitialize() error {
	p.disposed = false
	var errs []error
	for i := range p.stages {
		a := &p.stages[i]
		a.ctx.release()
		a.ctx = newStageContext(p, a.stage.Name())
		if err := a.stage.Setup(a.ctx); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: stage %q: setup: %w", a.stage.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) attach(s Stage) error {
	a, err := p.setup(s)
	if err != nil {
		return err
	}
	p.stages = append(p.stages, a)
	return nil
}

func (p *Pipeline) setup(s Stage) (attachedStage, error) {
	ctx := newStageContext(p, s.Name())
	if err := s.Setup(ctx); err != nil {
		ctx.release()
		return attachedStage{}, fmt.Errorf("pipeline: stage %q: setup: %w", s.Name(), err)
	}
	return attachedStage{stage: s, ctx: ctx}, nil
}

func teardown(stages []attachedStage) error {
	var errs []error
	for _, a := range stages {
		if td, ok := a.stage.(TearDowner); ok {
			if err := td.Teardown(); err != nil {
				errs = append(errs, fmt.Errorf("pipeline: stage %q: teardown: %w", a.stage.Name(), err))
			}
		}
		a.ctx.release()
	}
	return errors.Join(errs...)
}

func (p *Pipeline) enqueue(frame audio.Frame) {
	if len(p.pending) >= p.queueCap {
		p.dropped++
		p.logger.Debug("pipeline: no stages attached, dropping frame",
			"timestamp", frame.Timestamp,
			"queued", len(p.pending),
			"dropped", p.dropped,
		)
		p.bus.Emit(CoreError{
			Code:    CodeQueueOverflow,
			Message: fmt.Sprintf("pending queue full (%d frames), frame at %s dropped", p.queueCap, frame.Timestamp),
		})
		return
	}
	p.pending = append(p.pending, frame)
}

// replay drains the pending queue in order. On failure the frames after the
// failing one stay queued.
func (p *Pipeline) replay() error {
	for len(p.pending) > 0 {
		f := p.pending[0]
		p.pending = p.pending[1:]
		if err := p.dispatch(f); err != nil {
			return err
		}
	}
	p.pending = nil
	return nil
}

func (p *Pipeline) dispatch(frame audio.Frame) error {
	p.streamEnd = max(p.streamEnd, frame.Timestamp+frame.Duration())
	for _, a := range p.stages {
		if err := a.stage.Handle(frame); err != nil {
			return fmt.Errorf("pipeline: stage %q: handle: %w", a.stage.Name(), err)
		}
	}
	return nil
}
