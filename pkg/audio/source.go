package audio

import (
	"context"
	"sync"
)

// FrameHandler receives frames from a [Source].
type FrameHandler func(Frame)

// Source produces frames with monotonically non-decreasing timestamps and a
// stable format for the duration of one run.
//
// Implementations must uphold the following contract:
//   - Start delivers frames to fn and blocks until the stream ends (returning
//     nil), ctx is cancelled (returning ctx.Err()), Stop is called (returning
//     nil) or the underlying stream fails.
//   - Calling Start while a run is active is a no-op that returns nil.
//   - Stop is idempotent and safe to call from any goroutine except from
//     inside fn. Once Stop returns, fn is never invoked again for that run.
type Source interface {
	Start(ctx context.Context, fn FrameHandler) error
	Stop() error
}

// lifecycle implements the Start/Stop bookkeeping shared by the sources in
// this package. mu is held while a frame is delivered, which is what lets
// Stop promise that no delivery happens after it returns.
type lifecycle struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// begin marks a run as started. It returns false if one is already active.
func (l *lifecycle) begin() (<-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil, false
	}
	l.running = true
	l.stop = make(chan struct{})
	return l.stop, true
}

// deliver invokes fn with f unless the run has been stopped.
func (l *lifecycle) deliver(fn FrameHandler, f Frame) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return false
	}
	fn(f)
	return true
}

// end finishes the current run. It is safe to call more than once.
func (l *lifecycle) end() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	close(l.stop)
}

// active reports whether a run is in progress.
func (l *lifecycle) active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
