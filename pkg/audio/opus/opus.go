// Package opus provides an [audio.Source] that decodes a stream of Opus
// packets, such as those received from a voice platform or a websocket
// client, into 16-bit PCM frames.
package opus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/voxseg/pkg/audio"
)

// Defaults match the common voice-platform profile: 48 kHz stereo, 20 ms packets.
const (
	DefaultSampleRate    = 48000
	DefaultChannels      = 2
	DefaultFrameDuration = 20 * time.Millisecond
)

// maxFrameDuration is the longest frame an Opus packet can carry.
const maxFrameDuration = 120 * time.Millisecond

// Config configures a [Source].
type Config struct {
	// SampleRate is the decode rate: 8000, 12000, 16000, 24000 or 48000.
	SampleRate int

	// Channels is 1 or 2.
	Channels int

	// OnError receives packets that fail to decode. The packet is skipped
	// and decoding continues. May be nil.
	OnError func(error)
}

// Source decodes Opus packets read from a channel. The run ends when the
// channel is closed.
type Source struct {
	packets <-chan []byte
	cfg     Config
	dec     *gopus.Decoder

	mu      sync.Mutex // held while a frame is delivered
	running bool
	stop    chan struct{}
}

var _ audio.Source = (*Source)(nil)

// NewSource creates a decoder for packets arriving on packets. Zero fields in
// cfg take the package defaults.
func NewSource(packets <-chan []byte, cfg Config) (*Source, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = DefaultChannels
	}
	dec, err := gopus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Source{packets: packets, cfg: cfg, dec: dec}, nil
}

// Format returns the decoded stream format.
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}
}

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context, fn audio.FrameHandler) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()
	defer s.Stop()

	maxSamples := int(int64(s.cfg.SampleRate) * int64(maxFrameDuration) / int64(time.Second))
	var decoded int64 // samples per channel so far
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case pkt, ok := <-s.packets:
			if !ok {
				return nil
			}
			pcm, err := s.dec.Decode(pkt, maxSamples, false)
			if err != nil {
				if s.cfg.OnError != nil {
					s.cfg.OnError(fmt.Errorf("opus: decode packet of %d bytes: %w", len(pkt), err))
				}
				continue
			}
			f := audio.Frame{
				PCM:        pcm,
				SampleRate: s.cfg.SampleRate,
				Channels:   s.cfg.Channels,
				Timestamp:  time.Duration(decoded * int64(time.Second) / int64(s.cfg.SampleRate)),
			}
			decoded += int64(len(pcm) / s.cfg.Channels)
			if !s.deliver(fn, f) {
				return nil
			}
		}
	}
}

func (s *Source) deliver(fn audio.FrameHandler, f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	fn(f)
	return true
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	close(s.stop)
	return nil
}

// Encoder encodes fixed-size PCM frames into Opus packets. It is the
// counterpart of [Source] for clients and tests that need to produce packets.
type Encoder struct {
	enc       *gopus.Encoder
	frameSize int
	channels  int
}

// NewEncoder creates a voice-tuned encoder producing packets of frameDuration.
func NewEncoder(sampleRate, channels int, frameDuration time.Duration) (*Encoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{
		enc:       enc,
		frameSize: int(int64(sampleRate) * int64(frameDuration) / int64(time.Second)),
		channels:  channels,
	}, nil
}

// FrameSize returns the number of samples per channel each packet encodes.
func (e *Encoder) FrameSize() int { return e.frameSize }

// Encode encodes exactly FrameSize()*channels interleaved samples.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != e.frameSize*e.channels {
		return nil, fmt.Errorf("opus: encode: got %d samples, want %d", len(pcm), e.frameSize*e.channels)
	}
	pkt, err := e.enc.Encode(pcm, e.frameSize, len(pcm)*2)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}
