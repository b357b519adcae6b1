package meter_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
	"github.com/MrWong99/voxseg/pkg/stage/meter"
)

func TestMeasure(t *testing.T) {
	t.Parallel()

	nan := float32(math.NaN())
	tests := []struct {
		name     string
		samples  []float32
		wantRMS  float64
		wantPeak float64
		wantDB   float64
	}{
		{name: "empty", samples: nil, wantDB: math.Inf(-1)},
		{name: "all zero", samples: []float32{0, 0, 0}, wantDB: math.Inf(-1)},
		{name: "full scale", samples: []float32{1, 1, 1}, wantRMS: 1, wantPeak: 1, wantDB: 0},
		{name: "negative peak", samples: []float32{0.25, -0.5}, wantRMS: math.Sqrt(0.15625), wantPeak: 0.5, wantDB: 20 * math.Log10(math.Sqrt(0.15625))},
		{name: "nan counts as zero", samples: []float32{nan, 1}, wantRMS: math.Sqrt(0.5), wantPeak: 1, wantDB: 20 * math.Log10(math.Sqrt(0.5))},
		{name: "below epsilon", samples: []float32{1e-13}, wantRMS: 1e-13, wantPeak: 1e-13, wantDB: math.Inf(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := meter.Measure(tt.samples)
			if !closeTo(got.RMS, tt.wantRMS) {
				t.Errorf("RMS = %v, want %v", got.RMS, tt.wantRMS)
			}
			if !closeTo(got.Peak, tt.wantPeak) {
				t.Errorf("Peak = %v, want %v", got.Peak, tt.wantPeak)
			}
			if !closeTo(got.DB, tt.wantDB) {
				t.Errorf("DB = %v, want %v", got.DB, tt.wantDB)
			}
		})
	}
}

func TestStage_EmitsPerFrame(t *testing.T) {
	t.Parallel()

	p := pipeline.New()
	var got []pipeline.Meter
	pipeline.Subscribe(p.Events(), func(m pipeline.Meter) { got = append(got, m) })
	st := meter.New()
	if err := p.Use(st); err != nil {
		t.Fatalf("Use: %v", err)
	}

	p.Push(audio.Frame{PCM: []int16{0, 0}, SampleRate: 8000, Channels: 1, Timestamp: 5 * time.Millisecond})
	p.Push(audio.Frame{Samples: []float32{1, 1, 1}, SampleRate: 8000, Channels: 1, Timestamp: 10 * time.Millisecond})

	if len(got) != 2 {
		t.Fatalf("expected 2 meter events, got %d", len(got))
	}
	if !math.IsInf(got[0].DB, -1) || got[0].RMS != 0 || got[0].Timestamp != 5*time.Millisecond {
		t.Errorf("silent frame = %+v", got[0])
	}
	if math.Abs(got[1].DB) > 1e-9 || math.Abs(got[1].RMS-1) > 1e-9 {
		t.Errorf("full-scale frame = %+v", got[1])
	}

	st.Teardown()
	st.Handle(audio.Frame{Samples: []float32{1}})
	if len(got) != 2 {
		t.Error("torn-down stage still emits")
	}
}

func closeTo(a, b float64) bool {
	if math.IsInf(b, 0) {
		return math.IsInf(a, int(math.Copysign(1, b)))
	}
	return math.Abs(a-b) < 1e-9
}
