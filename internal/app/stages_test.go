package app_test

import (
	"testing"

	"github.com/MrWong99/voxseg/internal/app"
	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/pkg/dsp"
	"github.com/MrWong99/voxseg/pkg/stage/energyvad"
	"github.com/MrWong99/voxseg/pkg/stage/segmenter"
	"github.com/MrWong99/voxseg/pkg/stage/webrtcvad"
)

func ptr[T any](v T) *T { return &v }

func TestEnergyConfig(t *testing.T) {
	t.Parallel()
	if got := app.EnergyConfig(config.EnergyVADConfig{}); got != energyvad.DefaultConfig() {
		t.Errorf("empty config: got %+v, want defaults", got)
	}

	got := app.EnergyConfig(config.EnergyVADConfig{
		ThresholdDB: ptr(-40.0),
		FloorDB:     ptr(-90.0),
		CeilingDB:   ptr(-10.0),
		Smooth:      ms(20),
		MinRMS:      1e-3,
	})
	want := energyvad.Config{ThresholdDB: -40, FloorDB: -90, CeilingDB: -10, Smooth: ms(20), MinRMS: 1e-3}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	// An explicit zero threshold is kept.
	if got := app.EnergyConfig(config.EnergyVADConfig{ThresholdDB: ptr(0.0)}); got.ThresholdDB != 0 {
		t.Errorf("explicit zero threshold: got %v", got.ThresholdDB)
	}
}

func TestWebRTCConfig(t *testing.T) {
	t.Parallel()
	if got := app.WebRTCConfig(config.WebRTCVADConfig{}); got != webrtcvad.DefaultConfig() {
		t.Errorf("empty config: got %+v, want defaults", got)
	}
	got := app.WebRTCConfig(config.WebRTCVADConfig{Mode: ptr(0), Enter: ptr(0.7), Exit: ptr(0.1), Hold: ms(100)})
	want := webrtcvad.Config{Mode: 0, Enter: 0.7, Exit: 0.1, Hold: ms(100)}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSegmenterConfig(t *testing.T) {
	t.Parallel()
	got, err := app.SegmenterConfig(config.SegmenterConfig{})
	if err != nil {
		t.Fatalf("empty config: %v", err)
	}
	if got != segmenter.DefaultConfig() {
		t.Errorf("empty config: got %+v, want defaults", got)
	}

	got, err = app.SegmenterConfig(config.SegmenterConfig{
		PreRoll:       ms(100),
		Hangover:      ms(600),
		PreRollPolicy: "drop_newest",
		MaxDuration:   ms(15000),
		CaptureAudio:  ptr(false),
	})
	if err != nil {
		t.Fatalf("SegmenterConfig: %v", err)
	}
	want := segmenter.Config{
		PreRoll:       ms(100),
		PreRollPolicy: dsp.DropNewest,
		Hangover:      ms(600),
		MaxDuration:   ms(15000),
		CaptureAudio:  false,
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, err := app.SegmenterConfig(config.SegmenterConfig{PreRollPolicy: "sideways"}); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestRegisterDefaults(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	app.RegisterDefaults(reg)

	want := []string{config.SinkObjectStore, config.SinkPostgres, config.SinkWAVDir}
	got := reg.SinkTypes()
	if len(got) != len(want) {
		t.Fatalf("sink types: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sink types: got %v, want %v", got, want)
			break
		}
	}

	for _, engine := range []config.VADEngine{config.VADEnergy, config.VADWebRTC} {
		stage, err := reg.CreateVAD(config.VADConfig{Engine: engine})
		if err != nil {
			t.Fatalf("CreateVAD(%s): %v", engine, err)
		}
		if stage == nil {
			t.Fatalf("CreateVAD(%s): nil stage", engine)
		}
	}

	s, err := reg.CreateSink(t.Context(), config.SinkEntry{Type: config.SinkWAVDir, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("CreateSink(wavdir): %v", err)
	}
	if s.Name() != "wavdir" {
		t.Errorf("sink name: got %q", s.Name())
	}
}
