package app

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/internal/sink"
	"github.com/MrWong99/voxseg/internal/sink/objectstore"
	"github.com/MrWong99/voxseg/internal/sink/pgstore"
	"github.com/MrWong99/voxseg/internal/sink/wavdir"
	"github.com/MrWong99/voxseg/pkg/dsp"
	"github.com/MrWong99/voxseg/pkg/pipeline"
	"github.com/MrWong99/voxseg/pkg/stage/energyvad"
	"github.com/MrWong99/voxseg/pkg/stage/meter"
	"github.com/MrWong99/voxseg/pkg/stage/segmenter"
	"github.com/MrWong99/voxseg/pkg/stage/webrtcvad"
)

// RegisterDefaults registers the built-in VAD engines and sink types with reg.
func RegisterDefaults(reg *config.Registry) {
	reg.RegisterVAD(config.VADEnergy, func(cfg config.VADConfig) (pipeline.Stage, error) {
		return energyvad.New(energyvad.WithConfig(EnergyConfig(cfg.Energy)))
	})
	reg.RegisterVAD(config.VADWebRTC, func(cfg config.VADConfig) (pipeline.Stage, error) {
		return webrtcvad.New(webrtcvad.WithConfig(WebRTCConfig(cfg.WebRTC)))
	})

	reg.RegisterSink(config.SinkWAVDir, func(_ context.Context, e config.SinkEntry) (sink.Sink, error) {
		s, err := wavdir.New(e.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	reg.RegisterSink(config.SinkPostgres, func(ctx context.Context, e config.SinkEntry) (sink.Sink, error) {
		s, err := pgstore.Open(ctx, e.DSN, e.Migrate)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	reg.RegisterSink(config.SinkObjectStore, func(ctx context.Context, e config.SinkEntry) (sink.Sink, error) {
		s, err := objectstore.Open(ctx, objectstore.Config{
			Endpoint:  e.Endpoint,
			Bucket:    e.Bucket,
			Region:    e.Region,
			Prefix:    e.Prefix,
			AccessKey: e.AccessKey,
			SecretKey: e.SecretKey,
			UseSSL:    e.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// EnergyConfig merges the configured energy detector parameters over the
// detector defaults.
func EnergyConfig(c config.EnergyVADConfig) energyvad.Config {
	out := energyvad.DefaultConfig()
	if c.ThresholdDB != nil {
		out.ThresholdDB = *c.ThresholdDB
	}
	if c.FloorDB != nil {
		out.FloorDB = *c.FloorDB
	}
	if c.CeilingDB != nil {
		out.CeilingDB = *c.CeilingDB
	}
	if c.Smooth > 0 {
		out.Smooth = c.Smooth
	}
	if c.MinRMS > 0 {
		out.MinRMS = c.MinRMS
	}
	return out
}

// WebRTCConfig merges the configured WebRTC detector parameters over the
// detector defaults.
func WebRTCConfig(c config.WebRTCVADConfig) webrtcvad.Config {
	out := webrtcvad.DefaultConfig()
	if c.Mode != nil {
		out.Mode = *c.Mode
	}
	if c.Enter != nil {
		out.Enter = *c.Enter
	}
	if c.Exit != nil {
		out.Exit = *c.Exit
	}
	if c.Hold > 0 {
		out.Hold = c.Hold
	}
	return out
}

// SegmenterConfig merges the configured segmenter parameters over the
// segmenter defaults.
func SegmenterConfig(c config.SegmenterConfig) (segmenter.Config, error) {
	out := segmenter.DefaultConfig()
	if c.PreRoll > 0 {
		out.PreRoll = c.PreRoll
	}
	if c.Hangover > 0 {
		out.Hangover = c.Hangover
	}
	if c.PreRollPolicy != "" {
		p, err := dsp.ParseOverflowPolicy(c.PreRollPolicy)
		if err != nil {
			return segmenter.Config{}, err
		}
		out.PreRollPolicy = p
	}
	out.MaxDuration = c.MaxDuration
	if c.CaptureAudio != nil {
		out.CaptureAudio = *c.CaptureAudio
	}
	return out, nil
}

// buildStages creates a fresh stage list for one stream from cfg. The order
// is VAD, optional meter, segmenter, metrics: the segmenter must follow the
// detector, and the metrics stage sees every event of a frame last.
func buildStages(reg *config.Registry, cfg *config.Config, m *observe.Metrics, stream string) ([]pipeline.Stage, error) {
	vad, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad: %w", err)
	}
	stages := []pipeline.Stage{vad}
	if cfg.Meter.Enabled {
		stages = append(stages, meter.New())
	}

	segCfg, err := SegmenterConfig(cfg.Segmenter)
	if err != nil {
		return nil, fmt.Errorf("app: segmenter config: %w", err)
	}
	seg, err := segmenter.New(segmenter.WithConfig(segCfg))
	if err != nil {
		return nil, fmt.Errorf("app: create segmenter: %w", err)
	}
	stages = append(stages, seg)

	if m != nil {
		stages = append(stages, observe.NewStage(m, stream))
	}
	return stages, nil
}

// retune applies the VAD parameters of cfg to a running detector without
// resetting its state. It reports false when stage is not a known detector
// or belongs to a different engine.
func retune(stage pipeline.Stage, cfg config.VADConfig) (bool, error) {
	switch s := stage.(type) {
	case *energyvad.Stage:
		if cfg.Engine != config.VADEnergy {
			return false, nil
		}
		return true, s.UpdateConfig(energyvad.WithConfig(EnergyConfig(cfg.Energy)))
	case *webrtcvad.Stage:
		if cfg.Engine != config.VADWebRTC {
			return false, nil
		}
		return true, s.UpdateConfig(webrtcvad.WithConfig(WebRTCConfig(cfg.WebRTC)))
	}
	return false, nil
}

// buildSinks creates one sink per configured target. A target with
// fallbacks is wrapped in a [sink.FallbackSink]. On failure the sinks created
// so far are closed.
func buildSinks(ctx context.Context, reg *config.Registry, targets []config.SinkEntry, m *observe.Metrics) ([]sink.Sink, error) {
	var out []sink.Sink
	closeAll := func() {
		for _, s := range out {
			_ = s.Close()
		}
	}
	for i, t := range targets {
		s, err := buildSink(ctx, reg, t, m)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("app: sinks.targets[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func buildSink(ctx context.Context, reg *config.Registry, entry config.SinkEntry, m *observe.Metrics) (sink.Sink, error) {
	primary, err := reg.CreateSink(ctx, entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallback) == 0 {
		return primary, nil
	}
	fallbacks := make([]sink.Sink, 0, len(entry.Fallback))
	for _, fb := range entry.Fallback {
		s, err := buildSink(ctx, reg, fb, m)
		if err != nil {
			_ = primary.Close()
			for _, f := range fallbacks {
				_ = f.Close()
			}
			return nil, err
		}
		fallbacks = append(fallbacks, s)
	}
	return sink.NewFallbackSink(primary, fallbacks, sink.WithBreakerMetrics(m)), nil
}
