package audio

import (
	"fmt"
	"time"
)

// Framer cuts a little-endian PCM16 byte stream into fixed-size frames with
// evenly spaced timestamps. Partial frames are held until more bytes arrive
// or [Framer.Flush] pads them with silence.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	format    Format
	frameSize int // samples per channel
	frameLen  int // bytes per frame
	leftover  []byte
	emitted   int64
}

// NewFramer returns a framer producing frames of frameSize samples per
// channel. A frameSize of zero selects 10 ms (sampleRate/100).
func NewFramer(f Format, frameSize int) (*Framer, error) {
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", f.Channels)
	}
	if frameSize == 0 {
		frameSize = f.SampleRate / 100
	}
	if frameSize <= 0 {
		return nil, ErrInvalidFrameSize
	}
	return &Framer{
		format:    f,
		frameSize: frameSize,
		frameLen:  frameSize * f.Channels * 2,
	}, nil
}

// FrameSize returns the number of samples per channel in each frame.
func (fr *Framer) FrameSize() int { return fr.frameSize }

// FrameDuration returns the nominal duration of one frame.
func (fr *Framer) FrameDuration() time.Duration { return fr.timestamp(1) }

// Write appends b to the pending bytes and returns every complete frame.
func (fr *Framer) Write(b []byte) []Frame {
	fr.leftover = append(fr.leftover, b...)
	var frames []Frame
	for len(fr.leftover) >= fr.frameLen {
		frames = append(frames, fr.frame(fr.leftover[:fr.frameLen]))
		fr.leftover = fr.leftover[fr.frameLen:]
	}
	if len(fr.leftover) == 0 {
		fr.leftover = nil
	}
	return frames
}

// Flush zero-pads any pending bytes into a final frame. ok is false when
// nothing was pending.
func (fr *Framer) Flush() (f Frame, ok bool) {
	if len(fr.leftover) == 0 {
		return Frame{}, false
	}
	padded := make([]byte, fr.frameLen)
	copy(padded, fr.leftover)
	fr.leftover = nil
	return fr.frame(padded), true
}

// Reset drops pending bytes and restarts timestamps at zero.
func (fr *Framer) Reset() {
	fr.leftover = nil
	fr.emitted = 0
}

func (fr *Framer) frame(b []byte) Frame {
	f := Frame{
		PCM:        BytesToInt16(b),
		SampleRate: fr.format.SampleRate,
		Channels:   fr.format.Channels,
		Timestamp:  fr.timestamp(fr.emitted),
	}
	fr.emitted++
	return f
}

func (fr *Framer) timestamp(n int64) time.Duration {
	return frameTimestamp(n, fr.frameSize, fr.format.SampleRate)
}

// frameTimestamp computes the start of frame n from the sample count so
// rounding does not accumulate.
func frameTimestamp(n int64, frameSize, sampleRate int) time.Duration {
	return time.Duration(n * int64(frameSize) * int64(time.Second) / int64(sampleRate))
}
