package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxseg/pkg/dsp"
)

// KnownSinkTypes lists the sink types built into voxseg.
// Used by [Validate] to warn about unrecognised types.
var KnownSinkTypes = []string{SinkWAVDir, SinkPostgres, SinkObjectStore}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset top-level values in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Stream.SampleRate == 0 {
		cfg.Stream.SampleRate = DefaultSampleRate
	}
	if cfg.Stream.Channels == 0 {
		cfg.Stream.Channels = DefaultChannels
	}
	if cfg.VAD.Engine == "" {
		cfg.VAD.Engine = VADEnergy
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Stream
	if cfg.Stream.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("stream.sample_rate must be positive, got %d", cfg.Stream.SampleRate))
	}
	if cfg.Stream.Channels < 0 || cfg.Stream.Channels > 2 {
		errs = append(errs, fmt.Errorf("stream.channels must be 1 or 2, got %d", cfg.Stream.Channels))
	}
	if cfg.Stream.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("stream.frame_size must not be negative, got %d", cfg.Stream.FrameSize))
	}
	if cfg.Pipeline.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_capacity must not be negative, got %d", cfg.Pipeline.QueueCapacity))
	}

	errs = append(errs, validateVAD(cfg)...)
	errs = append(errs, validateSegmenter(cfg.Segmenter)...)

	// Sinks
	if cfg.Sinks.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("sinks.queue_size must not be negative, got %d", cfg.Sinks.QueueSize))
	}
	for i, entry := range cfg.Sinks.Targets {
		errs = append(errs, validateSink(fmt.Sprintf("sinks.targets[%d]", i), entry)...)
	}

	// Sentry
	if r := cfg.Sentry.TracesSampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("sentry.traces_sample_rate %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

func validateVAD(cfg *Config) []error {
	var errs []error
	v := cfg.VAD
	if v.Engine != "" && !v.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("vad.engine %q is invalid; valid values: energy, webrtc", v.Engine))
	}

	e := v.Energy
	for name, p := range map[string]*float64{
		"threshold_db": e.ThresholdDB,
		"floor_db":     e.FloorDB,
		"ceiling_db":   e.CeilingDB,
	} {
		if p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
			errs = append(errs, fmt.Errorf("vad.energy.%s must be finite", name))
		}
	}
	if e.FloorDB != nil && e.CeilingDB != nil && *e.CeilingDB <= *e.FloorDB {
		errs = append(errs, fmt.Errorf("vad.energy.ceiling_db (%v) must be greater than floor_db (%v)", *e.CeilingDB, *e.FloorDB))
	}
	if e.Smooth < 0 {
		errs = append(errs, fmt.Errorf("vad.energy.smooth must not be negative, got %s", e.Smooth))
	}
	if e.MinRMS < 0 {
		errs = append(errs, fmt.Errorf("vad.energy.min_rms must not be negative, got %v", e.MinRMS))
	}

	w := v.WebRTC
	if w.Mode != nil && (*w.Mode < 0 || *w.Mode > 3) {
		errs = append(errs, fmt.Errorf("vad.webrtc.mode %d is out of range [0, 3]", *w.Mode))
	}
	for name, p := range map[string]*float64{"enter": w.Enter, "exit": w.Exit} {
		if p != nil && (*p < 0 || *p > 1) {
			errs = append(errs, fmt.Errorf("vad.webrtc.%s %.2f is out of range [0, 1]", name, *p))
		}
	}
	if w.Enter != nil && w.Exit != nil && *w.Exit > *w.Enter {
		errs = append(errs, fmt.Errorf("vad.webrtc.exit (%v) must not exceed enter (%v)", *w.Exit, *w.Enter))
	}
	if w.Hold < 0 {
		errs = append(errs, fmt.Errorf("vad.webrtc.hold must not be negative, got %s", w.Hold))
	}
	if v.Engine == VADWebRTC && cfg.Stream.SampleRate < 8000 {
		slog.Warn("vad.engine webrtc needs at least 8 kHz; streams at the default sample rate get no VAD decisions",
			"sample_rate", cfg.Stream.SampleRate,
		)
	} else if v.Engine == VADWebRTC && !slices.Contains([]int{8000, 16000, 32000, 48000}, cfg.Stream.SampleRate) {
		slog.Info("vad.engine webrtc resamples the default stream sample rate to 16 kHz",
			"sample_rate", cfg.Stream.SampleRate,
		)
	}
	return errs
}

func validateSegmenter(s SegmenterConfig) []error {
	var errs []error
	for name, d := range map[string]int64{
		"pre_roll":     int64(s.PreRoll),
		"hangover":     int64(s.Hangover),
		"max_duration": int64(s.MaxDuration),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("segmenter.%s must not be negative", name))
		}
	}
	if _, err := dsp.ParseOverflowPolicy(s.PreRollPolicy); err != nil {
		errs = append(errs, fmt.Errorf("segmenter.pre_roll_policy: %w", err))
	}
	return errs
}

func validateSink(prefix string, e SinkEntry) []error {
	var errs []error
	switch e.Type {
	case "":
		errs = append(errs, fmt.Errorf("%s.type is required", prefix))
	case SinkWAVDir:
		if e.Dir == "" {
			errs = append(errs, fmt.Errorf("%s.dir is required for type wavdir", prefix))
		}
	case SinkPostgres:
		if e.DSN == "" {
			errs = append(errs, fmt.Errorf("%s.dsn is required for type postgres", prefix))
		}
	case SinkObjectStore:
		if e.Endpoint == "" {
			errs = append(errs, fmt.Errorf("%s.endpoint is required for type objectstore", prefix))
		}
		if e.Bucket == "" {
			errs = append(errs, fmt.Errorf("%s.bucket is required for type objectstore", prefix))
		}
	default:
		slog.Warn("unknown sink type, it must be registered before startup",
			"sink", prefix,
			"type", e.Type,
			"known", KnownSinkTypes,
		)
	}
	for i, fb := range e.Fallback {
		errs = append(errs, validateSink(fmt.Sprintf("%s.fallback[%d]", prefix, i), fb)...)
	}
	return errs
}
