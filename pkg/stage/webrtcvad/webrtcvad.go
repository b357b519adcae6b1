// Package webrtcvad implements a voice-activity detection stage backed by the
// WebRTC GMM detector.
//
// The WebRTC detector only accepts 10, 20 or 30 ms of mono 16-bit audio at
// 8, 16, 32 or 48 kHz. The stage downmixes stereo input, resamples other
// rates of at least 8 kHz to 16 kHz, slices each frame into 10 ms windows (carrying a partial window over to the next frame) and
// scores the frame as the fraction of voiced windows. The speech flag is
// debounced with a [dsp.Hysteresis].
package webrtcvad

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	wvad "github.com/hackers365/go-webrtcvad"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/dsp"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Name is the stage name reported by [Stage.Name].
const Name = "vad-webrtc"

// SupportedRates lists the sample rates the detector accepts natively.
var SupportedRates = []int{8000, 16000, 32000, 48000}

// MinRate is the lowest input rate the stage resamples. Frames below it are
// reported as unsupported.
const MinRate = 8000

// resampleTarget is the format other rates are converted to.
var resampleTarget = audio.Format{SampleRate: 16000, Channels: 1}

// Config holds the detector parameters.
type Config struct {
	// Mode is the aggressiveness from 0 (least) to 3 (most). Default 2.
	Mode int

	// Enter is the voiced fraction at or above which speech starts.
	// Default 0.5.
	Enter float64

	// Exit is the voiced fraction at or below which speech ends.
	// Default 0.2.
	Exit float64

	// Hold is the minimum time a speech decision is kept. Default 0.
	Hold time.Duration
}

// DefaultConfig returns the default detector parameters.
func DefaultConfig() Config {
	return Config{Mode: 2, Enter: 0.5, Exit: 0.2}
}

// Validate reports every invalid parameter.
func (c Config) Validate() error {
	var errs []error
	if c.Mode < 0 || c.Mode > 3 {
		errs = append(errs, fmt.Errorf("webrtcvad: mode must be between 0 and 3, got %d", c.Mode))
	}
	if c.Enter < 0 || c.Enter > 1 {
		errs = append(errs, fmt.Errorf("webrtcvad: enter must be within [0, 1], got %v", c.Enter))
	}
	if c.Exit < 0 || c.Exit > c.Enter {
		errs = append(errs, fmt.Errorf("webrtcvad: exit must be within [0, enter], got %v", c.Exit))
	}
	if c.Hold < 0 {
		errs = append(errs, fmt.Errorf("webrtcvad: hold must not be negative, got %s", c.Hold))
	}
	return errors.Join(errs...)
}

// Option adjusts a [Config].
type Option func(*Config)

// WithMode sets the detector aggressiveness.
func WithMode(mode int) Option { return func(c *Config) { c.Mode = mode } }

// WithThresholds sets the enter and exit voiced fractions.
func WithThresholds(enter, exit float64) Option {
	return func(c *Config) {
		c.Enter = enter
		c.Exit = exit
	}
}

// WithHold sets the minimum speech hold time.
func WithHold(d time.Duration) Option { return func(c *Config) { c.Hold = d } }

// WithConfig replaces every parameter with cfg.
func WithConfig(cfg Config) Option { return func(c *Config) { *c = cfg } }

// Stage is the WebRTC VAD pipeline stage.
type Stage struct {
	cfg atomic.Pointer[Config]
	ctx *pipeline.StageContext

	det     *wvad.VAD
	applied Config
	hyst    *dsp.Hysteresis

	format      audio.Format
	conv        *audio.FormatConverter
	carry       []int16
	lastScore   float64
	lastTS      time.Duration
	unsupported audio.Format
}

var (
	_ pipeline.Stage      = (*Stage)(nil)
	_ pipeline.TearDowner = (*Stage)(nil)
)

// New returns a stage configured from the defaults and opts.
func New(opts ...Option) (*Stage, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Stage{}
	s.cfg.Store(&cfg)
	return s, nil
}

// Name implements [pipeline.Stage].
func (s *Stage) Name() string { return Name }

// Config returns the parameters currently in effect.
func (s *Stage) Config() Config { return *s.cfg.Load() }

// UpdateConfig applies opts on top of the current parameters. The new values
// take effect from the next frame. Safe to call from any goroutine.
func (s *Stage) UpdateConfig(opts ...Option) error {
	cfg := s.Config()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg.Store(&cfg)
	return nil
}

// Setup implements [pipeline.Stage]. It creates a fresh detector instance.
func (s *Stage) Setup(ctx *pipeline.StageContext) error {
	det, err := wvad.New()
	if err != nil {
		return fmt.Errorf("webrtcvad: create detector: %w", err)
	}
	s.det = det
	s.ctx = ctx
	s.reset()
	return s.apply(s.Config())
}

// Handle implements [pipeline.Stage].
func (s *Stage) Handle(f audio.Frame) error {
	if s.ctx == nil {
		return nil
	}
	if cfg := s.Config(); cfg != s.applied {
		if err := s.apply(cfg); err != nil {
			return err
		}
	}

	format := f.Format()
	if !supported(format) && convertible(format) {
		f = s.conv.Convert(f)
		format = f.Format()
	}
	if !supported(format) {
		if format != s.unsupported {
			s.unsupported = format
			s.ctx.Emit(pipeline.CoreError{
				Code:    pipeline.CodeUnsupportedFormat,
				Message: fmt.Sprintf("webrtcvad: unsupported stream format %s", format),
			})
		}
		return nil
	}
	if format != s.format {
		s.format = format
		s.carry = s.carry[:0]
	}

	pcm := f.Int16()
	if format.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	s.carry = append(s.carry, pcm...)

	window := format.SampleRate / 100
	var windows, voiced int
	for len(s.carry) >= window {
		active, err := s.det.Process(format.SampleRate, audio.Int16ToBytes(s.carry[:window]))
		if err != nil {
			return fmt.Errorf("webrtcvad: process window: %w", err)
		}
		windows++
		if active {
			voiced++
		}
		s.carry = s.carry[window:]
	}
	s.carry = slices.Clone(s.carry)
	if windows > 0 {
		s.lastScore = float64(voiced) / float64(windows)
	}

	s.lastTS = f.Timestamp
	s.ctx.Emit(pipeline.VADScore{
		Score:     s.lastScore,
		Speech:    s.hyst.Update(s.lastScore, f.Timestamp),
		Timestamp: f.Timestamp,
	})
	return nil
}

// Teardown implements [pipeline.TearDowner].
func (s *Stage) Teardown() error {
	s.reset()
	s.det = nil
	s.ctx = nil
	return nil
}

func (s *Stage) apply(cfg Config) error {
	if err := s.det.SetMode(cfg.Mode); err != nil {
		return fmt.Errorf("webrtcvad: set mode %d: %w", cfg.Mode, err)
	}
	hyst, err := dsp.NewHysteresis(dsp.HysteresisConfig{Enter: cfg.Enter, Exit: cfg.Exit, Hold: cfg.Hold})
	if err != nil {
		return err
	}
	if s.hyst != nil && s.hyst.On() {
		// Keep an ongoing speech decision across parameter changes. The
		// hold period restarts at the last frame seen.
		hyst.Update(1, s.lastTS)
	}
	s.hyst = hyst
	s.applied = cfg
	return nil
}

func (s *Stage) reset() {
	s.format = audio.Format{}
	s.conv = &audio.FormatConverter{Target: resampleTarget}
	s.unsupported = audio.Format{}
	s.carry = nil
	s.lastScore = 0
	s.lastTS = 0
	s.hyst = nil
	s.applied = Config{}
}

func supported(f audio.Format) bool {
	return (f.Channels == 1 || f.Channels == 2) && slices.Contains(SupportedRates, f.SampleRate)
}

func convertible(f audio.Format) bool {
	return (f.Channels == 1 || f.Channels == 2) && f.SampleRate >= MinRate
}
