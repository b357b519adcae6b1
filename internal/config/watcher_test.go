package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxseg/internal/config"
)

const baseYAML = `
server:
  log_level: info
vad:
  engine: energy
segmenter:
  hangover: 400ms
`

// reloads records the watcher callbacks.
type reloads struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	ch    chan struct{}
}

func newReloads() *reloads { return &reloads{ch: make(chan struct{}, 16)} }

func (r *reloads) onChange(old, next *config.Config) {
	r.mu.Lock()
	r.diffs = append(r.diffs, config.Diff(old, next))
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *reloads) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func (r *reloads) wait(t *testing.T) config.ConfigDiff {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diffs[len(r.diffs)-1]
}

// startWatcher writes content to a fresh config file and watches it with a
// short poll interval.
func startWatcher(t *testing.T, content string, r *reloads) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxseg.yaml")
	rewrite(t, path, content)
	var cb func(old, next *config.Config)
	if r != nil {
		cb = r.onChange
	}
	w, err := config.NewWatcher(path, cb, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

// rewrite replaces the file content and moves its mtime forward so the next
// poll notices even on filesystems with coarse timestamps.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	bump(t, path)
}

var (
	bumpMu sync.Mutex
	bumpAt = time.Now()
)

func bump(t *testing.T, path string) {
	t.Helper()
	bumpMu.Lock()
	bumpAt = bumpAt.Add(2 * time.Second)
	at := bumpAt
	bumpMu.Unlock()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestWatcher_CurrentAfterStart(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, baseYAML, nil)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current returned nil")
	}
	if cfg.VAD.Engine != config.VADEnergy || cfg.Segmenter.Hangover != 400*time.Millisecond {
		t.Errorf("loaded config: got engine=%q hangover=%s", cfg.VAD.Engine, cfg.Segmenter.Hangover)
	}
	if cfg.Stream.SampleRate == 0 {
		t.Error("defaults were not applied")
	}
}

func TestWatcher_ReloadDiffs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		next  string
		check func(t *testing.T, d config.ConfigDiff)
	}{
		{
			name: "log level",
			next: `
server:
  log_level: debug
vad:
  engine: energy
segmenter:
  hangover: 400ms
`,
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("got %+v, want log level change to debug", d)
				}
				if d.VADTuned || d.PipelineChanged {
					t.Errorf("unexpected pipeline change: %+v", d)
				}
			},
		},
		{
			name: "threshold retune",
			next: `
server:
  log_level: info
vad:
  engine: energy
  energy:
    threshold_db: -42
segmenter:
  hangover: 400ms
`,
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.VADTuned || d.PipelineChanged {
					t.Errorf("got %+v, want in-place VAD tuning only", d)
				}
			},
		},
		{
			name: "hangover",
			next: `
server:
  log_level: info
vad:
  engine: energy
segmenter:
  hangover: 250ms
`,
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.PipelineChanged {
					t.Errorf("got %+v, want pipeline rebuild", d)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newReloads()
			w, path := startWatcher(t, baseYAML, r)
			rewrite(t, path, tt.next)
			tt.check(t, r.wait(t))
			if got := w.Current(); got == nil || !config.Diff(got, w.Current()).IsZero() {
				t.Error("Current is not stable after reload")
			}
		})
	}
}

func TestWatcher_IgnoresInvalidEdit(t *testing.T) {
	t.Parallel()
	r := newReloads()
	w, path := startWatcher(t, baseYAML, r)

	rewrite(t, path, "vad:\n  engine: neural\n")
	time.Sleep(150 * time.Millisecond)
	if n := r.count(); n != 0 {
		t.Fatalf("callback fired %d times for an invalid file", n)
	}
	if got := w.Current().VAD.Engine; got != config.VADEnergy {
		t.Errorf("Current engine: got %q, want the previous %q", got, config.VADEnergy)
	}

	// A later valid edit is still picked up.
	rewrite(t, path, "vad:\n  engine: webrtc\n")
	d := r.wait(t)
	if !d.PipelineChanged {
		t.Errorf("engine switch: got %+v, want pipeline rebuild", d)
	}
	if got := w.Current().VAD.Engine; got != config.VADWebRTC {
		t.Errorf("Current engine: got %q, want %q", got, config.VADWebRTC)
	}
}

func TestWatcher_TouchOnly(t *testing.T) {
	t.Parallel()
	r := newReloads()
	_, path := startWatcher(t, baseYAML, r)
	bump(t, path)
	time.Sleep(150 * time.Millisecond)
	if n := r.count(); n != 0 {
		t.Errorf("callback fired %d times for an unchanged file", n)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher on a missing file: got nil error")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, baseYAML, nil)
	w.Stop()
	w.Stop()
}
