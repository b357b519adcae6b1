package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxseg/internal/app"
	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
	pipelinemock "github.com/MrWong99/voxseg/pkg/pipeline/mock"
)

// testApp returns an App whose VAD marks a frame as speech when its first
// sample is non-zero.
func testApp(t *testing.T) *app.App {
	t.Helper()
	reg := config.NewRegistry()
	reg.RegisterVAD(config.VADEnergy, func(config.VADConfig) (pipeline.Stage, error) {
		return &pipelinemock.Stage{
			StageName: "vad",
			OnHandle: func(ctx *pipeline.StageContext, f audio.Frame) {
				ctx.Emit(pipeline.VADScore{Speech: f.PCM[0] != 0, Timestamp: f.Timestamp})
			},
		}, nil
	})
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Stream.FrameSize = 160
	cfg.Segmenter.Hangover = 30 * time.Millisecond

	a, err := app.New(context.Background(), cfg, app.WithRegistry(reg))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// speech returns 10 ms frames at 16 kHz mono, loud for '1' and silent for '0'.
func speech(pattern string) []int16 {
	var pcm []int16
	for _, c := range pattern {
		v := int16(0)
		if c == '1' {
			v = 2000
		}
		for range 160 {
			pcm = append(pcm, v)
		}
	}
	return pcm
}

func TestSegmentInput(t *testing.T) {
	t.Parallel()
	pcm := speech("0011100000")
	wavData, err := audio.WAVBytes(pcm, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("WAVBytes: %v", err)
	}

	tests := []struct {
		format string
		data   []byte
	}{
		{formatWAV, wavData},
		{formatPCM16, audio.Int16ToBytes(pcm)},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "in."+tt.format)
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}

			var out bytes.Buffer
			if err := segmentInput(context.Background(), testApp(t), path, tt.format, "file", &out); err != nil {
				t.Fatalf("segmentInput: %v", err)
			}

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			if len(lines) != 1 {
				t.Fatalf("got %d lines, want 1: %q", len(lines), out.String())
			}
			var got segmentLine
			if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
				t.Fatalf("decode %q: %v", lines[0], err)
			}
			if got.StartMs != 20 || got.EndMs != 80 || got.DurationMs != 60 {
				t.Errorf("span: got %+v, want [20, 80]", got)
			}
			if got.SampleRate != 16000 || got.Channels != 1 || got.Samples == 0 {
				t.Errorf("audio: got %+v", got)
			}
		})
	}
}

func TestSegmentInput_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	notWAV := filepath.Join(dir, "noise.wav")
	if err := os.WriteFile(notWAV, []byte("definitely not a riff header"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name, path, format, want string
	}{
		{"missing file", filepath.Join(dir, "absent.wav"), formatWAV, "open input"},
		{"unknown format", notWAV, "flac", "unknown input format"},
		{"bad wav", notWAV, formatWAV, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := segmentInput(context.Background(), testApp(t), tt.path, tt.format, "file", &bytes.Buffer{})
			if err == nil {
				t.Fatal("got nil error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error: got %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	} {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q): got %v, want %v", in, got, want)
		}
	}
}
