// Package segmenter implements the speech segmenter stage: a state machine
// driven by [pipeline.VADScore] events that turns a frame stream into closed
// [pipeline.Segment] values.
//
// The segmenter is Idle until a VAD decision reports speech, at which point it
// opens a segment seeded with the pre-roll audio captured just before the
// onset and emits [pipeline.SpeechStart]. Once the VAD reports silence, a
// hangover timer starts; speech resuming before it elapses keeps the segment
// open. The timer is checked against frame timestamps as frames arrive. When
// it elapses the segmenter emits [pipeline.SpeechEnd] followed by the
// [pipeline.Segment] and returns to Idle.
//
// The segmenter must be attached after the VAD stage so that the decision for
// a frame is known before the frame itself is handled.
package segmenter

import (
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/dsp"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Name is the stage name reported by [Stage.Name].
const Name = "segmenter"

// Defaults.
const (
	DefaultPreRoll  = 250 * time.Millisecond
	DefaultHangover = 400 * time.Millisecond
)

// Config holds the segmenter parameters.
type Config struct {
	// PreRoll is how much audio preceding a speech onset is included in
	// the segment.
	PreRoll time.Duration

	// PreRollPolicy selects how the pre-roll buffer behaves once full.
	// [dsp.OverwriteOldest] keeps the audio immediately before the onset;
	// [dsp.DropNewest] captures only the first PreRoll of the stream.
	PreRollPolicy dsp.OverflowPolicy

	// Hangover is the silence required before an open segment closes.
	Hangover time.Duration

	// MaxDuration force-closes a segment that has been open this long.
	// Zero disables the cap.
	MaxDuration time.Duration

	// CaptureAudio controls whether segments carry PCM.
	CaptureAudio bool
}

// DefaultConfig returns the default parameters.
func DefaultConfig() Config {
	return Config{
		PreRoll:       DefaultPreRoll,
		PreRollPolicy: dsp.OverwriteOldest,
		Hangover:      DefaultHangover,
		CaptureAudio:  true,
	}
}

// Validate reports the first invalid parameter.
func (c Config) Validate() error {
	switch {
	case c.PreRoll < 0:
		return fmt.Errorf("segmenter: pre-roll must not be negative, got %s", c.PreRoll)
	case c.Hangover < 0:
		return fmt.Errorf("segmenter: hangover must not be negative, got %s", c.Hangover)
	case c.MaxDuration < 0:
		return fmt.Errorf("segmenter: max duration must not be negative, got %s", c.MaxDuration)
	case c.PreRollPolicy != dsp.OverwriteOldest && c.PreRollPolicy != dsp.DropNewest:
		return fmt.Errorf("segmenter: invalid pre-roll policy %v", c.PreRollPolicy)
	}
	return nil
}

// Option adjusts a [Config].
type Option func(*Config)

// WithPreRoll sets the pre-roll duration.
func WithPreRoll(d time.Duration) Option { return func(c *Config) { c.PreRoll = d } }

// WithPreRollPolicy sets the pre-roll buffer overflow policy.
func WithPreRollPolicy(p dsp.OverflowPolicy) Option {
	return func(c *Config) { c.PreRollPolicy = p }
}

// WithHangover sets the hangover duration.
func WithHangover(d time.Duration) Option { return func(c *Config) { c.Hangover = d } }

// WithMaxDuration caps the length of a segment.
func WithMaxDuration(d time.Duration) Option { return func(c *Config) { c.MaxDuration = d } }

// WithoutAudio disables PCM capture; segments carry timing only.
func WithoutAudio() Option { return func(c *Config) { c.CaptureAudio = false } }

// WithConfig replaces every parameter with cfg.
func WithConfig(cfg Config) Option { return func(c *Config) { *c = cfg } }

// state is the per-run state machine. The zero value is Idle.
type state struct {
	active    bool
	id        string
	start     time.Duration
	pending   bool
	silenceTS time.Duration // first silence observed while active, valid if pending
}

// Stage is the segmenter pipeline stage.
type Stage struct {
	cfg Config
	ctx *pipeline.StageContext

	format  audio.Format
	preRoll *dsp.RingBuffer
	buf     segmentBuffer
	st      state
}

var (
	_ pipeline.Stage      = (*Stage)(nil)
	_ pipeline.Flusher    = (*Stage)(nil)
	_ pipeline.TearDowner = (*Stage)(nil)
)

// New returns a segmenter configured from the defaults and opts.
func New(opts ...Option) (*Stage, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Stage{cfg: cfg}, nil
}

// Name implements [pipeline.Stage].
func (s *Stage) Name() string { return Name }

// Config returns the segmenter parameters.
func (s *Stage) Config() Config { return s.cfg }

// Active reports whether a segment is open.
func (s *Stage) Active() bool { return s.st.active }

// Setup implements [pipeline.Stage]. It discards any state from a previous run.
func (s *Stage) Setup(ctx *pipeline.StageContext) error {
	s.reset()
	s.ctx = ctx
	pipeline.On(ctx, s.onVAD)
	return nil
}

// Handle implements [pipeline.Stage].
func (s *Stage) Handle(f audio.Frame) error {
	if s.ctx == nil {
		return nil
	}
	if err := s.ensurePreRoll(f); err != nil {
		return err
	}
	samples := f.Float32()
	s.preRoll.Write(samples)
	if !s.st.active {
		return nil
	}
	if s.cfg.CaptureAudio {
		if f.IsFloat() {
			s.buf.append(samples)
		} else {
			s.buf.appendPCM(f.PCM)
		}
	}

	switch {
	case s.st.pending && f.Timestamp-s.st.silenceTS >= s.cfg.Hangover:
		s.finish(f.Timestamp)
	case s.cfg.MaxDuration > 0 && f.Timestamp-s.st.start >= s.cfg.MaxDuration:
		s.ctx.Logger().Debug("segmenter: maximum segment duration reached",
			"segment", s.st.id,
			"max", s.cfg.MaxDuration,
		)
		s.finish(f.Timestamp)
	}
	return nil
}

// Flush implements [pipeline.Flusher]. An open segment is closed at the
// first observed trailing silence, or at the pipeline clock when speech was
// still ongoing.
func (s *Stage) Flush() error {
	if s.ctx == nil || !s.st.active {
		return nil
	}
	end := s.ctx.Now()
	if s.st.pending {
		end = s.st.silenceTS
	}
	s.finish(end)
	return nil
}

// Teardown implements [pipeline.TearDowner].
func (s *Stage) Teardown() error {
	s.reset()
	s.ctx = nil
	return nil
}

func (s *Stage) onVAD(v pipeline.VADScore) {
	if s.ctx == nil {
		return
	}
	if v.Speech {
		s.st.pending = false
		if !s.st.active {
			s.begin(v.Timestamp)
		}
		return
	}
	if s.st.active && !s.st.pending {
		s.st.pending = true
		s.st.silenceTS = v.Timestamp
	}
}

func (s *Stage) begin(ts time.Duration) {
	s.st = state{active: true, id: s.ctx.NewID(), start: ts}
	s.buf.clear()
	if s.cfg.CaptureAudio && s.preRoll != nil {
		if snap := s.preRoll.Snapshot(); len(snap) > 0 {
			s.buf.append(snap)
		}
	}
	s.ctx.Emit(pipeline.SpeechStart{Timestamp: ts})
}

func (s *Stage) finish(end time.Duration) {
	if !s.st.active {
		return
	}
	seg := pipeline.Segment{
		ID:         s.st.id,
		Start:      s.st.start,
		End:        end,
		Duration:   max(0, end-s.st.start),
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
	}
	if s.cfg.CaptureAudio {
		seg.PCM = s.buf.take()
	}
	s.st = state{}
	s.buf.clear()

	s.ctx.Logger().Debug("segmenter: segment closed",
		"segment", seg.ID,
		"start", seg.Start,
		"end", seg.End,
		"samples", len(seg.PCM),
	)
	s.ctx.Emit(pipeline.SpeechEnd{Timestamp: end})
	s.ctx.Emit(seg)
}

// ensurePreRoll sizes the pre-roll buffer from the first frame's format. A
// format change mid-stream closes any open segment, reports a
// [pipeline.CodeFormatChange] error event and restarts capture.
func (s *Stage) ensurePreRoll(f audio.Frame) error {
	format := f.Format()
	if s.preRoll != nil && format == s.format {
		return nil
	}
	if s.preRoll != nil {
		s.finish(f.Timestamp)
		s.ctx.Emit(pipeline.CoreError{
			Code:    pipeline.CodeFormatChange,
			Message: fmt.Sprintf("segmenter: stream format changed from %s to %s", s.format, format),
		})
	}
	perMs := float64(format.SampleRate*format.Channels) / 1000
	capacity := max(1, int(math.Ceil(perMs*float64(s.cfg.PreRoll)/float64(time.Millisecond))))
	rb, err := dsp.NewRingBuffer(capacity, s.cfg.PreRollPolicy)
	if err != nil {
		return fmt.Errorf("segmenter: create pre-roll buffer: %w", err)
	}
	s.preRoll = rb
	s.format = format
	return nil
}

func (s *Stage) reset() {
	s.st = state{}
	s.buf.clear()
	s.preRoll = nil
	s.format = audio.Format{}
}
