package pipeline

import (
	"fmt"
	"time"
)

// EventName identifies one of the pipeline's event kinds on the [Bus].
type EventName string

// The closed set of pipeline events.
const (
	EventVAD         EventName = "vad"
	EventSpeechStart EventName = "speechStart"
	EventSpeechEnd   EventName = "speechEnd"
	EventSegment     EventName = "segment"
	EventMeter       EventName = "meter"
	EventError       EventName = "error"
)

// Event is a payload carried over the [Bus]. The set of implementations is
// closed: only the payload types declared in this package satisfy it, so
// every event name maps to exactly one payload type.
type Event interface {
	EventName() EventName
	event()
}

// VADScore is a voice-activity decision for one frame.
type VADScore struct {
	// Score is a speech likelihood in [0, 1].
	Score float64

	// Speech is the debounced speech/silence decision.
	Speech bool

	// Timestamp of the frame the decision was made for.
	Timestamp time.Duration
}

// SpeechStart marks the opening of a speech segment.
type SpeechStart struct {
	Timestamp time.Duration
}

// SpeechEnd marks the closing of a speech segment.
type SpeechEnd struct {
	Timestamp time.Duration
}

// Segment is a closed span of detected speech. Segments are immutable once
// emitted; subscribers take ownership and must not modify PCM.
type Segment struct {
	ID       string
	Start    time.Duration
	End      time.Duration
	Duration time.Duration

	SampleRate int
	Channels   int

	// PCM is the interleaved 16-bit audio covering the whole segment,
	// pre-roll included. Nil when the segmenter runs without audio capture.
	PCM []int16
}

// Meter carries the level measurement of one frame.
type Meter struct {
	// RMS is the root-mean-square amplitude.
	RMS float64

	// Peak is the maximum absolute sample value.
	Peak float64

	// DB is RMS in dBFS, -Inf for (near) silent frames.
	DB float64

	Timestamp time.Duration
}

// Error codes carried by [CoreError].
const (
	CodeQueueOverflow     = "queue_overflow"
	CodeFormatChange      = "format_change"
	CodeUnsupportedFormat = "unsupported_format"
	CodeDecodeFailed      = "decode_failed"
	CodeStageFailed       = "stage_failed"
)

// CoreError is a business-level failure a stage reports without aborting the
// stream. It also implements error so it can be logged and wrapped.
type CoreError struct {
	Code    string
	Message string
	Cause   error
}

func (e CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e CoreError) Unwrap() error { return e.Cause }

func (VADScore) EventName() EventName    { return EventVAD }
func (SpeechStart) EventName() EventName { return EventSpeechStart }
func (SpeechEnd) EventName() EventName   { return EventSpeechEnd }
func (Segment) EventName() EventName     { return EventSegment }
func (Meter) EventName() EventName       { return EventMeter }
func (CoreError) EventName() EventName   { return EventError }

func (VADScore) event()    {}
func (SpeechStart) event() {}
func (SpeechEnd) event()   {}
func (Segment) event()     {}
func (Meter) event()       {}
func (CoreError) event()   {}
