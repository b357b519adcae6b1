package config

import "reflect"

// ConfigDiff describes what changed between two configs and how the running
// service has to react.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADTuned is set when only the parameters of the active VAD engine
	// changed. They are applied to the running stage without losing its
	// state.
	VADTuned bool

	// PipelineChanged is set when the stage list has to be rebuilt: the VAD
	// engine, the segmenter or the meter changed.
	PipelineChanged bool

	// RestartRequired lists sections that only take effect after a restart.
	RestartRequired []string
}

// IsZero reports whether nothing relevant changed.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.VADTuned && !d.PipelineChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	switch {
	case old.VAD.Engine != new.VAD.Engine,
		!reflect.DeepEqual(old.Segmenter, new.Segmenter),
		old.Meter != new.Meter,
		old.Pipeline != new.Pipeline:
		d.PipelineChanged = true
	case !reflect.DeepEqual(old.VAD, new.VAD):
		d.VADTuned = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Stream != new.Stream {
		d.RestartRequired = append(d.RestartRequired, "stream")
	}
	if !reflect.DeepEqual(old.Sinks, new.Sinks) {
		d.RestartRequired = append(d.RestartRequired, "sinks")
	}
	if old.Sentry != new.Sentry {
		d.RestartRequired = append(d.RestartRequired, "sentry")
	}
	return d
}
