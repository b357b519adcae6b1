package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/voxseg/internal/app"
	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Input formats of the -format flag.
const (
	formatWAV   = "wav"
	formatPCM16 = "pcm16"
)

// segmentLine is one line of the -input output.
type segmentLine struct {
	ID         string `json:"id"`
	StartMs    int64  `json:"start_ms"`
	EndMs      int64  `json:"end_ms"`
	DurationMs int64  `json:"duration_ms"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Samples    int    `json:"samples"`
}

// segmentInput segments the file at path ("-" for stdin) on a stream named
// stream and writes one JSON line per closed segment to out.
func segmentInput(ctx context.Context, a *app.App, path, format, stream string, out io.Writer) error {
	src, closeInput, err := openInput(path, format, a.Config().Stream)
	if err != nil {
		return err
	}
	defer closeInput()

	h, err := a.NewStream(stream)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	var writeErr error
	pipeline.Subscribe(h.Events(), func(seg pipeline.Segment) {
		if writeErr != nil {
			return
		}
		writeErr = enc.Encode(segmentLine{
			ID:         seg.ID,
			StartMs:    seg.Start.Milliseconds(),
			EndMs:      seg.End.Milliseconds(),
			DurationMs: seg.Duration.Milliseconds(),
			SampleRate: seg.SampleRate,
			Channels:   seg.Channels,
			Samples:    len(seg.PCM),
		})
	})

	runErr := h.Run(ctx, src, true)
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.DrainTimeout)
	defer cancel()
	closeErr := h.Close(drainCtx)
	if writeErr != nil {
		writeErr = fmt.Errorf("write output: %w", writeErr)
	}
	return errors.Join(runErr, closeErr, writeErr)
}

// openInput opens path as an audio source. WAV input from stdin is buffered
// in memory because the decoder needs to seek.
func openInput(path, format string, sc config.StreamConfig) (audio.Source, func(), error) {
	var (
		r    io.Reader = os.Stdin
		done           = func() {}
	)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open input: %w", err)
		}
		r = f
		done = func() {
			if err := f.Close(); err != nil {
				slog.Warn("close input", "err", err)
			}
		}
	}

	switch format {
	case formatWAV:
		rs, ok := r.(io.ReadSeeker)
		if !ok || path == "-" {
			data, err := io.ReadAll(r)
			if err != nil {
				done()
				return nil, nil, fmt.Errorf("read input: %w", err)
			}
			rs = bytes.NewReader(data)
		}
		src, err := audio.NewWAVSource(rs, sc.FrameSize)
		if err != nil {
			done()
			return nil, nil, err
		}
		slog.Info("input opened", "path", path, "format", src.Format().String())
		return src, done, nil
	case formatPCM16:
		src, err := audio.NewPCM16Source(r, audio.PCM16SourceConfig{
			SampleRate: sc.SampleRate,
			Channels:   sc.Channels,
			FrameSize:  sc.FrameSize,
		})
		if err != nil {
			done()
			return nil, nil, err
		}
		return src, done, nil
	default:
		done()
		return nil, nil, fmt.Errorf("unknown input format %q; valid values: wav, pcm16", format)
	}
}
