package audio_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voxseg/pkg/audio"
)

func TestFrame_Accessors(t *testing.T) {
	t.Parallel()

	pcm := audio.Frame{PCM: []int16{0, 16384, -32768, 0}, SampleRate: 16000, Channels: 2}
	if pcm.IsFloat() {
		t.Error("PCM frame reported as float")
	}
	if pcm.Len() != 4 {
		t.Errorf("Len = %d, want 4", pcm.Len())
	}
	if got := pcm.Float32(); !slices.Equal(got, []float32{0, 0.5, -1, 0}) {
		t.Errorf("Float32 = %v", got)
	}
	if got := pcm.Int16(); &got[0] != &pcm.PCM[0] {
		t.Error("Int16 on a PCM frame should return the frame's own slice")
	}

	fl := audio.Frame{Samples: []float32{1, -1}, SampleRate: 16000, Channels: 1}
	if !fl.IsFloat() {
		t.Error("float frame not reported as float")
	}
	if got := fl.Int16(); !slices.Equal(got, []int16{32767, -32768}) {
		t.Errorf("Int16 = %v", got)
	}
}

func TestFrame_Duration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame audio.Frame
		want  time.Duration
	}{
		{"10ms mono", audio.Frame{PCM: make([]int16, 160), SampleRate: 16000, Channels: 1}, 10 * time.Millisecond},
		{"20ms stereo", audio.Frame{PCM: make([]int16, 1920), SampleRate: 48000, Channels: 2}, 20 * time.Millisecond},
		{"no format", audio.Frame{PCM: make([]int16, 10)}, 0},
	}
	for _, tt := range tests {
		if got := tt.frame.Duration(); got != tt.want {
			t.Errorf("%s: Duration = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFrame_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   audio.Frame
		wantErr bool
	}{
		{"ok", audio.Frame{PCM: make([]int16, 4), SampleRate: 8000, Channels: 2}, false},
		{"zero rate", audio.Frame{PCM: make([]int16, 4), Channels: 1}, true},
		{"three channels", audio.Frame{PCM: make([]int16, 3), SampleRate: 8000, Channels: 3}, true},
		{"ragged stereo", audio.Frame{PCM: make([]int16, 3), SampleRate: 8000, Channels: 2}, true},
	}
	for _, tt := range tests {
		if err := tt.frame.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}
