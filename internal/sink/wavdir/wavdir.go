// Package wavdir implements a [sink.Sink] that writes every segment as a
// 16-bit WAV file into a directory, one sub-directory per stream.
package wavdir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/voxseg/internal/sink"
	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Sink writes segments to <dir>/<stream>/<start-ms>_<id>.wav.
type Sink struct {
	dir string
}

var (
	_ sink.Sink   = (*Sink)(nil)
	_ sink.Pinger = (*Sink)(nil)
)

// New creates dir if needed and returns a sink writing into it.
func New(dir string) (*Sink, error) {
	if dir == "" {
		return nil, errors.New("wavdir: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wavdir: create %q: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

// Name implements [sink.Sink].
func (s *Sink) Name() string { return "wavdir" }

// Dir returns the output directory.
func (s *Sink) Dir() string { return s.dir }

// FileName returns the file name used for seg.
func FileName(seg pipeline.Segment) string {
	return fmt.Sprintf("%d_%s.wav", seg.Start.Milliseconds(), seg.ID)
}

// Path returns the file path seg is written to for stream.
func (s *Sink) Path(stream string, seg pipeline.Segment) string {
	return filepath.Join(s.dir, safeName(stream), FileName(seg))
}

// Write implements [sink.Sink]. The file is written under a temporary name
// and renamed into place, so readers never observe a partial WAV.
func (s *Sink) Write(ctx context.Context, seg pipeline.Segment) error {
	if seg.PCM == nil {
		return sink.ErrNoAudio
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := s.Path(sink.StreamFromContext(ctx), seg)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("wavdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".segment-*.tmp")
	if err != nil {
		return fmt.Errorf("wavdir: %w", err)
	}
	format := audio.Format{SampleRate: seg.SampleRate, Channels: seg.Channels}
	if err := audio.EncodeWAV(tmp, seg.PCM, format); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("wavdir: write %s: %w", seg.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("wavdir: write %s: %w", seg.ID, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("wavdir: %w", err)
	}
	return nil
}

// Ping reports whether the output directory is still present.
func (s *Sink) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("wavdir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("wavdir: %q is not a directory", s.dir)
	}
	return nil
}

// Close implements [sink.Sink].
func (s *Sink) Close() error { return nil }

// safeName keeps stream ids from escaping the output directory.
func safeName(stream string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	if name := r.Replace(stream); name != "" && name != "." {
		return name
	}
	return sink.DefaultStream
}
