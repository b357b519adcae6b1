// Package energyvad implements a voice-activity detection stage that decides
// speech versus silence from smoothed frame energy.
//
// Each frame's RMS is converted to dBFS and folded into an exponential moving
// average whose weight depends on the time elapsed since the previous frame,
// so the decision is insensitive to the frame duration. The stage emits one
// [pipeline.VADScore] per frame.
//
// Parameters can be changed while the stage runs with [Stage.UpdateConfig];
// the smoothing state is kept.
package energyvad

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/dsp"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Name is the stage name reported by [Stage.Name].
const Name = "vad-energy"

// Config holds the detector parameters.
type Config struct {
	// ThresholdDB is the smoothed level at or above which a frame counts as
	// speech. Default -50 dBFS.
	ThresholdDB float64

	// FloorDB and CeilingDB bound the range mapped linearly onto the score
	// [0, 1]. Defaults -100 and 0.
	FloorDB   float64
	CeilingDB float64

	// Smooth is the time constant of the moving average. Values below 1 ms
	// are treated as 1 ms. Default 50 ms.
	Smooth time.Duration

	// MinRMS is the energy floor applied before the dB conversion so silent
	// frames do not produce -Inf. Default 1e-4.
	MinRMS float64
}

// DefaultConfig returns the default detector parameters.
func DefaultConfig() Config {
	return Config{
		ThresholdDB: -50,
		FloorDB:     -100,
		CeilingDB:   0,
		Smooth:      50 * time.Millisecond,
		MinRMS:      1e-4,
	}
}

// Validate reports every invalid parameter.
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"threshold_db": c.ThresholdDB,
		"floor_db":     c.FloorDB,
		"ceiling_db":   c.CeilingDB,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("energyvad: %s must be finite, got %v", name, v))
		}
	}
	if c.CeilingDB <= c.FloorDB {
		errs = append(errs, fmt.Errorf("energyvad: ceiling_db (%v) must be greater than floor_db (%v)", c.CeilingDB, c.FloorDB))
	}
	if c.Smooth < 0 {
		errs = append(errs, fmt.Errorf("energyvad: smooth must not be negative, got %s", c.Smooth))
	}
	if !(c.MinRMS > 0) {
		errs = append(errs, fmt.Errorf("energyvad: min_rms must be positive, got %v", c.MinRMS))
	}
	return errors.Join(errs...)
}

// Option adjusts a [Config].
type Option func(*Config)

// WithThreshold sets the speech threshold in dBFS.
func WithThreshold(db float64) Option {
	return func(c *Config) { c.ThresholdDB = db }
}

// WithRange sets the dB range mapped onto the score.
func WithRange(floorDB, ceilingDB float64) Option {
	return func(c *Config) {
		c.FloorDB = floorDB
		c.CeilingDB = ceilingDB
	}
}

// WithSmoothing sets the moving-average time constant.
func WithSmoothing(d time.Duration) Option {
	return func(c *Config) { c.Smooth = d }
}

// WithMinRMS sets the energy floor.
func WithMinRMS(v float64) Option {
	return func(c *Config) { c.MinRMS = v }
}

// WithConfig replaces every parameter with cfg.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

// Stage is the energy VAD pipeline stage.
type Stage struct {
	cfg atomic.Pointer[Config]
	ctx *pipeline.StageContext

	hasValue   bool
	smoothedDB float64
	lastTS     time.Duration
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
// take effect from the next frame; the smoothing state is preserved. On
// validation failure the current parameters stay in place. Safe to call from
// any goroutine.
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

// Setup implements [pipeline.Stage].
func (s *Stage) Setup(ctx *pipeline.StageContext) error {
	s.ctx = ctx
	s.reset()
	return nil
}

// Handle implements [pipeline.Stage].
func (s *Stage) Handle(f audio.Frame) error {
	if s.ctx == nil {
		return nil
	}
	cfg := s.cfg.Load()

	var energy float64
	if f.IsFloat() {
		energy = dsp.RMS(f.Samples)
	} else {
		energy = dsp.RMSInt16(f.PCM)
	}
	if math.IsNaN(energy) || math.IsInf(energy, 0) {
		// Keeps the moving average finite.
		energy = 0
	}
	db := dsp.AmplitudeToDB(max(energy, cfg.MinRMS))
	smoothed := s.smooth(db, f.Timestamp, cfg.Smooth)

	score := (smoothed - cfg.FloorDB) / (cfg.CeilingDB - cfg.FloorDB)
	s.ctx.Emit(pipeline.VADScore{
		Score:     min(1, max(0, score)),
		Speech:    smoothed >= cfg.ThresholdDB,
		Timestamp: f.Timestamp,
	})
	return nil
}

// Teardown implements [pipeline.TearDowner].
func (s *Stage) Teardown() error {
	s.reset()
	s.ctx = nil
	return nil
}

// smooth folds db into the moving average with weight Δt/smooth, capped at 1.
// The first observation initialises the average directly.
func (s *Stage) smooth(db float64, ts, smooth time.Duration) float64 {
	if !s.hasValue {
		s.hasValue = true
		s.smoothedDB = db
		s.lastTS = ts
		return db
	}
	dt := max(time.Millisecond, ts-s.lastTS)
	weight := min(1, float64(dt)/float64(max(time.Millisecond, smooth)))
	s.smoothedDB += (db - s.smoothedDB) * weight
	s.lastTS = ts
	return s.smoothedDB
}

func (s *Stage) reset() {
	s.hasValue = false
	s.smoothedDB = 0
	s.lastTS = 0
}
