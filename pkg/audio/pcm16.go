package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const readChunkSize = 4096

// PCM16SourceConfig configures a [PCM16Source].
type PCM16SourceConfig struct {
	SampleRate int
	Channels   int

	// FrameSize is the number of samples per channel per frame.
	// Zero selects 10 ms (SampleRate/100).
	FrameSize int
}

// PCM16Source reads raw little-endian PCM16 from an [io.Reader] and emits
// fixed-size frames. A trailing partial frame is padded with silence when the
// reader reaches EOF.
type PCM16Source struct {
	r      io.Reader
	cfg    PCM16SourceConfig
	framer *Framer
	life   lifecycle
}

var _ Source = (*PCM16Source)(nil)

// NewPCM16Source validates cfg and returns a source reading from r.
func NewPCM16Source(r io.Reader, cfg PCM16SourceConfig) (*PCM16Source, error) {
	framer, err := NewFramer(Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}, cfg.FrameSize)
	if err != nil {
		return nil, fmt.Errorf("audio: pcm16 source: %w", err)
	}
	cfg.FrameSize = framer.FrameSize()
	return &PCM16Source{r: r, cfg: cfg, framer: framer}, nil
}

// Config returns the effective configuration, including the resolved frame size.
func (s *PCM16Source) Config() PCM16SourceConfig { return s.cfg }

type readResult struct {
	data []byte
	err  error
}

// Start implements [Source].
func (s *PCM16Source) Start(ctx context.Context, fn FrameHandler) error {
	stop, ok := s.life.begin()
	if !ok {
		return nil
	}
	defer s.life.end()
	s.framer.Reset()

	// The reader may block indefinitely, so it runs on its own goroutine and
	// gives up as soon as the run is over.
	chunks := make(chan readResult)
	go func() {
		for {
			buf := make([]byte, readChunkSize)
			n, err := s.r.Read(buf)
			if n > 0 {
				select {
				case chunks <- readResult{data: buf[:n]}:
				case <-stop:
					return
				}
			}
			if err != nil {
				select {
				case chunks <- readResult{err: err}:
				case <-stop:
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case res := <-chunks:
			if res.err != nil {
				if !errors.Is(res.err, io.EOF) {
					return fmt.Errorf("audio: pcm16 source: read: %w", res.err)
				}
				if f, ok := s.framer.Flush(); ok {
					s.life.deliver(fn, f)
				}
				return nil
			}
			for _, f := range s.framer.Write(res.data) {
				if !s.life.deliver(fn, f) {
					return nil
				}
			}
		}
	}
}

// Stop implements [Source].
func (s *PCM16Source) Stop() error {
	s.life.end()
	return nil
}
