package dsp

import "fmt"

// OverflowPolicy controls what a [RingBuffer] does with writes once it is full.
type OverflowPolicy int

const (
	// OverwriteOldest turns the buffer into a sliding window: each new sample
	// evicts the oldest one, so the buffer always holds the most recent
	// Cap() samples.
	OverwriteOldest OverflowPolicy = iota

	// DropNewest keeps the first Cap() samples written after the last
	// Clear and silently discards everything after that.
	DropNewest
)

// String returns the policy name as used in configuration files.
func (p OverflowPolicy) String() string {
	switch p {
	case OverwriteOldest:
		return "overwrite_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy parses the configuration spelling of a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "overwrite_oldest":
		return OverwriteOldest, nil
	case "drop_newest":
		return DropNewest, nil
	default:
		return 0, fmt.Errorf("dsp: unknown overflow policy %q", s)
	}
}

// RingBuffer is a fixed-capacity FIFO of float32 samples.
type RingBuffer struct {
	buf    []float32
	policy OverflowPolicy
	read   int
	size   int
}

// NewRingBuffer returns an empty buffer that holds up to capacity samples.
// capacity must be positive.
func NewRingBuffer(capacity int, policy OverflowPolicy) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("dsp: ring buffer capacity must be positive, got %d", capacity)
	}
	if policy != OverwriteOldest && policy != DropNewest {
		return nil, fmt.Errorf("dsp: invalid overflow policy %d", int(policy))
	}
	return &RingBuffer{buf: make([]float32, capacity), policy: policy}, nil
}

// Cap returns the buffer capacity in samples.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// Len returns the number of samples currently held.
func (r *RingBuffer) Len() int { return r.size }

// Policy returns the overflow policy the buffer was created with.
func (r *RingBuffer) Policy() OverflowPolicy { return r.policy }

// Write appends samples and returns how many of them were stored. Under
// DropNewest the count stops short once the buffer is full; under
// OverwriteOldest every sample is stored and the oldest are evicted.
func (r *RingBuffer) Write(samples []float32) int {
	capacity := len(r.buf)
	written := 0
	for _, s := range samples {
		if r.size == capacity {
			if r.policy == DropNewest {
				break
			}
			r.buf[r.read] = s
			r.read = (r.read + 1) % capacity
			written++
			continue
		}
		r.buf[(r.read+r.size)%capacity] = s
		r.size++
		written++
	}
	return written
}

// Read moves up to len(dst) of the oldest samples into dst and returns the
// number moved.
func (r *RingBuffer) Read(dst []float32) int {
	n := min(len(dst), r.size)
	for i := range n {
		dst[i] = r.buf[(r.read+i)%len(r.buf)]
	}
	r.read = (r.read + n) % len(r.buf)
	r.size -= n
	return n
}

// Snapshot returns a copy of the buffered samples, oldest first, without
// consuming them.
func (r *RingBuffer) Snapshot() []float32 {
	out := make([]float32, r.size)
	for i := range out {
		out[i] = r.buf[(r.read+i)%len(r.buf)]
	}
	return out
}

// Clear discards all buffered samples.
func (r *RingBuffer) Clear() {
	r.read = 0
	r.size = 0
}
