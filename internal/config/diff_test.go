package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voxseg/internal/config"
)

func ptr[T any](v T) *T { return &v }

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Stream:    config.StreamConfig{SampleRate: 16000, Channels: 1},
		VAD:       config.VADConfig{Engine: config.VADEnergy},
		Segmenter: config.SegmenterConfig{Hangover: 400 * time.Millisecond},
		Sinks: config.SinksConfig{Targets: []config.SinkEntry{
			{Type: config.SinkWAVDir, Dir: "/tmp/segments"},
		}},
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.IsZero() {
		t.Errorf("expected zero diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Server.LogLevel = config.LogDebug

	d := config.Diff(baseConfig(), next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("expected log level change to debug, got %+v", d)
	}
	if d.VADTuned || d.PipelineChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_VADTuned(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.VAD.Energy.ThresholdDB = ptr(-45.0)
	next.VAD.Energy.Smooth = 20 * time.Millisecond

	d := config.Diff(baseConfig(), next)
	if !d.VADTuned {
		t.Error("expected VADTuned")
	}
	if d.PipelineChanged {
		t.Error("threshold change should not rebuild the pipeline")
	}
}

func TestDiff_PipelineChanged(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"engine", func(c *config.Config) { c.VAD.Engine = config.VADWebRTC }},
		{"hangover", func(c *config.Config) { c.Segmenter.Hangover = time.Second }},
		{"capture audio", func(c *config.Config) { c.Segmenter.CaptureAudio = ptr(false) }},
		{"meter", func(c *config.Config) { c.Meter.Enabled = true }},
		{"queue capacity", func(c *config.Config) { c.Pipeline.QueueCapacity = 16 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)
			if !d.PipelineChanged {
				t.Errorf("expected PipelineChanged, got %+v", d)
			}
			if d.VADTuned {
				t.Error("VADTuned must not be set together with PipelineChanged")
			}
		})
	}
}

func TestDiff_EngineChangeWithTuning(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.VAD.Engine = config.VADWebRTC
	next.VAD.WebRTC.Mode = ptr(3)

	d := config.Diff(baseConfig(), next)
	if !d.PipelineChanged || d.VADTuned {
		t.Errorf("engine switch should rebuild only, got %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Server.ListenAddr = ":9090"
	next.Stream.SampleRate = 48000
	next.Sinks.Targets[0].Dir = "/var/segments"
	next.Sentry.DSN = "https://public@sentry.example.com/1"

	d := config.Diff(baseConfig(), next)
	want := []string{"server", "stream", "sinks", "sentry"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
	if d.PipelineChanged || d.VADTuned {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}

func TestDiff_TLSChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Server.TLS = &config.TLSConfig{CertFile: "a.pem", KeyFile: "a.key"}

	d := config.Diff(baseConfig(), next)
	if !slices.Contains(d.RestartRequired, "server") {
		t.Errorf("RestartRequired: got %v, want server", d.RestartRequired)
	}
}
