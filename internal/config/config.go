// Package config provides the configuration schema, loader, watcher and
// factory registry for the voxseg speech segmentation service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VADEngine selects the voice-activity detector feeding the segmenter.
type VADEngine string

const (
	// VADEnergy decides from smoothed frame energy.
	VADEnergy VADEngine = "energy"

	// VADWebRTC uses the WebRTC GMM detector.
	VADWebRTC VADEngine = "webrtc"
)

// IsValid reports whether e is a recognised engine.
func (e VADEngine) IsValid() bool {
	return e == VADEnergy || e == VADWebRTC
}

// Sink types understood by the default registry.
const (
	SinkWAVDir      = "wavdir"
	SinkPostgres    = "postgres"
	SinkObjectStore = "objectstore"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Stream    StreamConfig    `yaml:"stream"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	VAD       VADConfig       `yaml:"vad"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Meter     MeterConfig     `yaml:"meter"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Sentry    SentryConfig    `yaml:"sentry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StreamConfig is the default input format. Websocket clients may override
// it per connection with query parameters.
type StreamConfig struct {
	// SampleRate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is 1 or 2. Default 1.
	Channels int `yaml:"channels"`

	// FrameSize is the number of samples per channel in each frame.
	// Zero selects 10 ms.
	FrameSize int `yaml:"frame_size"`
}

// PipelineConfig tunes the pipeline runner.
type PipelineConfig struct {
	// QueueCapacity bounds the frames held while no stage is attached.
	// Zero selects the pipeline default.
	QueueCapacity int `yaml:"queue_capacity"`
}

// VADConfig selects and tunes the voice-activity detector.
type VADConfig struct {
	// Engine selects the detector. Default "energy".
	Engine VADEngine `yaml:"engine"`

	Energy EnergyVADConfig `yaml:"energy"`
	WebRTC WebRTCVADConfig `yaml:"webrtc"`
}

// EnergyVADConfig mirrors the energy detector parameters. Unset fields keep
// the detector defaults.
type EnergyVADConfig struct {
	ThresholdDB *float64      `yaml:"threshold_db"`
	FloorDB     *float64      `yaml:"floor_db"`
	CeilingDB   *float64      `yaml:"ceiling_db"`
	Smooth      time.Duration `yaml:"smooth"`
	MinRMS      float64       `yaml:"min_rms"`
}

// WebRTCVADConfig mirrors the WebRTC detector parameters. Unset fields keep
// the detector defaults.
type WebRTCVADConfig struct {
	Mode  *int          `yaml:"mode"`
	Enter *float64      `yaml:"enter"`
	Exit  *float64      `yaml:"exit"`
	Hold  time.Duration `yaml:"hold"`
}

// SegmenterConfig mirrors the segmenter parameters. Zero durations keep the
// segmenter defaults.
type SegmenterConfig struct {
	PreRoll  time.Duration `yaml:"pre_roll"`
	Hangover time.Duration `yaml:"hangover"`

	// PreRollPolicy is "overwrite_oldest" (default) or "drop_newest".
	PreRollPolicy string `yaml:"pre_roll_policy"`

	// MaxDuration force-closes long segments. Zero disables the cap.
	MaxDuration time.Duration `yaml:"max_duration"`

	// CaptureAudio controls whether segments carry PCM. Default true.
	CaptureAudio *bool `yaml:"capture_audio"`
}

// MeterConfig enables the level meter stage.
type MeterConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SinksConfig declares where closed segments are delivered.
type SinksConfig struct {
	// QueueSize bounds the segments waiting to be written per stream.
	// Zero selects the dispatcher default.
	QueueSize int `yaml:"queue_size"`

	// Targets are written independently of each other.
	Targets []SinkEntry `yaml:"targets"`
}

// SinkEntry configures one segment sink. Type selects the factory registered
// in the [Registry]; the remaining fields are interpreted by that factory.
type SinkEntry struct {
	// Type is "wavdir", "postgres", "objectstore" or a custom registered type.
	Type string `yaml:"type"`

	// Dir is the output directory of a wavdir sink.
	Dir string `yaml:"dir"`

	// DSN is the PostgreSQL connection string of a postgres sink.
	DSN string `yaml:"dsn"`

	// Migrate creates the postgres schema on startup.
	Migrate bool `yaml:"migrate"`

	// Endpoint, Bucket and the credentials configure an objectstore sink.
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`

	// Fallback sinks are tried in order when this one fails or its circuit
	// breaker is open.
	Fallback []SinkEntry `yaml:"fallback"`
}

// SentryConfig enables error reporting to Sentry.
type SentryConfig struct {
	// DSN enables reporting when non-empty.
	DSN string `yaml:"dsn"`

	Environment      string  `yaml:"environment"`
	TracesSampleRate float64 `yaml:"traces_sample_rate"`
}
