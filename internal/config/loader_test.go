package config

import (
	"strings"
	"testing"
)

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Server: ServerConfig{ListenAddr: ":9000", LogLevel: LogWarn},
		Stream: StreamConfig{SampleRate: 8000, Channels: 2},
		VAD:    VADConfig{Engine: VADWebRTC},
	}
	ApplyDefaults(cfg)

	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != LogWarn {
		t.Errorf("server overwritten: %+v", cfg.Server)
	}
	if cfg.Stream.SampleRate != 8000 || cfg.Stream.Channels != 2 {
		t.Errorf("stream overwritten: %+v", cfg.Stream)
	}
	if cfg.VAD.Engine != VADWebRTC {
		t.Errorf("engine overwritten: %q", cfg.VAD.Engine)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Server: ServerConfig{LogLevel: "loud"},
		Stream: StreamConfig{Channels: 5},
		Sinks:  SinksConfig{QueueSize: -1},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, sub := range []string{"server.log_level", "stream.channels", "sinks.queue_size"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("error should mention %q, got: %v", sub, err)
		}
	}
}

func TestValidateSink_NestedFallbacks(t *testing.T) {
	t.Parallel()
	entry := SinkEntry{
		Type: SinkObjectStore,
		Fallback: []SinkEntry{
			{Type: SinkWAVDir, Fallback: []SinkEntry{{Type: SinkPostgres}}},
		},
	}
	errs := validateSink("sinks.targets[0]", entry)
	// endpoint, bucket, fallback dir, nested fallback dsn
	if len(errs) != 4 {
		t.Fatalf("got %d errors, want 4: %v", len(errs), errs)
	}
	if !strings.Contains(errs[3].Error(), "sinks.targets[0].fallback[0].fallback[0].dsn") {
		t.Errorf("nested path missing: %v", errs[3])
	}
}

func TestKnownSinkTypes(t *testing.T) {
	t.Parallel()
	for _, typ := range []string{SinkWAVDir, SinkPostgres, SinkObjectStore} {
		found := false
		for _, k := range KnownSinkTypes {
			if k == typ {
				found = true
			}
		}
		if !found {
			t.Errorf("KnownSinkTypes is missing %q", typ)
		}
	}
}
