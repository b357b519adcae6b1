// Package audio defines the frame type that flows through the segmentation
// pipeline, the [Source] contract for frame producers, and PCM helpers for
// converting between sample representations and container formats.
//
// A [Frame] carries either floating-point samples in [-1, 1] or signed 16-bit
// PCM. Stages that need one representation call [Frame.Float32] or
// [Frame.Int16], which convert on demand.
//
// This package lives under pkg/ because external code is expected to
// implement [Source] for its own capture devices and transports.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFrameSize is returned when a frame size is not positive.
var ErrInvalidFrameSize = errors.New("audio: frame size must be greater than zero")

// Frame is one slice of interleaved audio. Frames are immutable once created;
// producers must not modify the sample slices after handing a frame off.
type Frame struct {
	// Samples holds floating-point samples in [-1, 1]. When non-nil it takes
	// precedence over PCM.
	Samples []float32

	// PCM holds signed 16-bit samples. Used when Samples is nil.
	PCM []int16

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks the start of the frame relative to stream start.
	// Timestamps are monotonic but need not start at zero.
	Timestamp time.Duration
}

// IsFloat reports whether the frame carries floating-point samples.
func (f Frame) IsFloat() bool { return f.Samples != nil }

// Len returns the number of interleaved samples in the frame.
func (f Frame) Len() int {
	if f.Samples != nil {
		return len(f.Samples)
	}
	return len(f.PCM)
}

// Format returns the frame's sample rate and channel count.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame, or 0 when the format
// is incomplete.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := f.Len() / f.Channels
	return time.Duration(int64(perChannel) * int64(time.Second) / int64(f.SampleRate))
}

// Float32 returns the samples as float32. Float frames return their own
// slice; PCM frames are converted into a new slice.
func (f Frame) Float32() []float32 {
	if f.Samples != nil {
		return f.Samples
	}
	return Int16ToFloat32(f.PCM)
}

// Int16 returns the samples as 16-bit PCM. PCM frames return their own
// slice; float frames are converted into a new slice.
func (f Frame) Int16() []int16 {
	if f.Samples == nil {
		return f.PCM
	}
	return Float32ToInt16(f.Samples)
}

// Validate checks that the frame has a usable format.
func (f Frame) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("audio: unsupported channel count %d", f.Channels)
	}
	if f.Len()%f.Channels != 0 {
		return fmt.Errorf("audio: %d samples do not divide into %d channels", f.Len(), f.Channels)
	}
	return nil
}
