// Package meter implements a level-metering stage that reports the RMS, peak
// amplitude and dBFS of every frame.
package meter

import (
	"math"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Name is the stage name reported by [Stage.Name].
const Name = "audio-meter"

// epsilon is the RMS below which a frame reports -Inf dBFS.
const epsilon = 1e-12

// Stage emits a [pipeline.Meter] event per frame. It keeps no state across
// frames. NaN samples count as zero.
type Stage struct {
	ctx *pipeline.StageContext
}

var (
	_ pipeline.Stage      = (*Stage)(nil)
	_ pipeline.TearDowner = (*Stage)(nil)
)

// New returns a meter stage.
func New() *Stage { return &Stage{} }

// Name implements [pipeline.Stage].
func (s *Stage) Name() string { return Name }

// Setup implements [pipeline.Stage].
func (s *Stage) Setup(ctx *pipeline.StageContext) error {
	s.ctx = ctx
	return nil
}

// Handle implements [pipeline.Stage].
func (s *Stage) Handle(f audio.Frame) error {
	if s.ctx == nil {
		return nil
	}
	m := Measure(f.Float32())
	m.Timestamp = f.Timestamp
	s.ctx.Emit(m)
	return nil
}

// Teardown implements [pipeline.TearDowner].
func (s *Stage) Teardown() error {
	s.ctx = nil
	return nil
}

// Measure computes the level of samples in a single pass. An empty slice
// measures as silence.
func Measure(samples []float32) pipeline.Meter {
	if len(samples) == 0 {
		return pipeline.Meter{DB: math.Inf(-1)}
	}
	var sumSq, peak float64
	for _, v := range samples {
		x := float64(v)
		if math.IsNaN(x) {
			x = 0
		}
		sumSq += x * x
		peak = max(peak, math.Abs(x))
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	db := math.Inf(-1)
	if rms > epsilon {
		db = 20 * math.Log10(rms)
	}
	return pipeline.Meter{RMS: rms, Peak: peak, DB: db}
}
