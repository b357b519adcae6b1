package audio

import (
	"context"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource decodes a RIFF/WAVE stream and emits fixed-size 16-bit frames.
// Samples of other bit depths are scaled to 16 bits. A trailing partial frame
// is padded with silence.
type WAVSource struct {
	dec       *wav.Decoder
	format    Format
	bitDepth  int
	frameSize int
	life      lifecycle
}

var _ Source = (*WAVSource)(nil)

// NewWAVSource reads the WAV header from r. frameSize is the number of
// samples per channel per frame; zero selects 10 ms.
func NewWAVSource(r io.ReadSeeker, frameSize int) (*WAVSource, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("audio: wav source: invalid wav file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("audio: wav source: seek to pcm data: %w", err)
	}
	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	framer, err := NewFramer(f, frameSize)
	if err != nil {
		return nil, fmt.Errorf("audio: wav source: %w", err)
	}
	depth := int(dec.BitDepth)
	switch depth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("audio: wav source: unsupported bit depth %d", depth)
	}
	return &WAVSource{
		dec:       dec,
		format:    f,
		bitDepth:  depth,
		frameSize: framer.FrameSize(),
	}, nil
}

// Format returns the stream format read from the WAV header.
func (s *WAVSource) Format() Format { return s.format }

// Start implements [Source].
func (s *WAVSource) Start(ctx context.Context, fn FrameHandler) error {
	stop, ok := s.life.begin()
	if !ok {
		return nil
	}
	defer s.life.end()

	samples := s.frameSize * s.format.Channels
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: s.format.Channels, SampleRate: s.format.SampleRate},
		Data:           make([]int, samples),
		SourceBitDepth: s.bitDepth,
	}
	var emitted int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		n, err := s.dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("audio: wav source: decode: %w", err)
		}
		if n == 0 {
			return nil
		}
		pcm := make([]int16, samples)
		for i := range n {
			pcm[i] = toInt16(buf.Data[i], s.bitDepth)
		}
		f := Frame{
			PCM:        pcm,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  frameTimestamp(emitted, s.frameSize, s.format.SampleRate),
		}
		emitted++
		if !s.life.deliver(fn, f) || n < samples {
			return nil
		}
	}
}

// Stop implements [Source].
func (s *WAVSource) Stop() error {
	s.life.end()
	return nil
}

func toInt16(v, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		// 8-bit WAV is unsigned.
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}

// EncodeWAV writes pcm as a 16-bit PCM WAV file to ws.
func EncodeWAV(ws io.WriteSeeker, pcm []int16, f Format) error {
	enc := wav.NewEncoder(ws, f.SampleRate, 16, f.Channels, 1)
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: encode wav: close: %w", err)
	}
	return nil
}

// WAVBytes returns pcm encoded as an in-memory 16-bit WAV file.
func WAVBytes(pcm []int16, f Format) ([]byte, error) {
	ws := &WriteSeeker{}
	if err := EncodeWAV(ws, pcm, f); err != nil {
		return nil, err
	}
	return ws.Bytes(), nil
}
