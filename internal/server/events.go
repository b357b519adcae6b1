package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// DefaultEventBuffer is the default number of queued outgoing messages per
// connection.
const DefaultEventBuffer = 64

// eventWriteTimeout bounds writing one event message to the client.
const eventWriteTimeout = 5 * time.Second

// Message types sent to stream clients.
const (
	msgReady       = "ready"
	msgSpeechStart = "speechStart"
	msgSpeechEnd   = "speechEnd"
	msgSegment     = "segment"
	msgError       = "error"
)

// message is the JSON text frame sent to stream clients. Segment messages
// carry metadata only; the audio goes to the configured sinks.
type message struct {
	Type        string `json:"type"`
	Stream      string `json:"stream,omitempty"`
	TimestampMs int64  `json:"timestampMs,omitempty"`

	ID         string `json:"id,omitempty"`
	StartMs    int64  `json:"startMs,omitempty"`
	EndMs      int64  `json:"endMs,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Samples    int    `json:"samples,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// eventWriter forwards pipeline events to a websocket from its own goroutine
// so that pushing frames never waits for the client. When the buffer is full
// new messages are dropped.
type eventWriter struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
	out    chan message
	done   chan struct{}
	drops  atomic.Int64
}

func newEventWriter(conn *websocket.Conn, buffer int, log *slog.Logger) *eventWriter {
	return &eventWriter{
		conn: conn,
		log:  log,
		out:  make(chan message, buffer),
		done: make(chan struct{}),
	}
}

// attach subscribes to the events sent to the client.
func (e *eventWriter) attach(bus *pipeline.Bus) (detach func()) {
	subs := []func(){
		pipeline.Subscribe(bus, func(ev pipeline.SpeechStart) {
			e.send(message{Type: msgSpeechStart, TimestampMs: ev.Timestamp.Milliseconds()})
		}),
		pipeline.Subscribe(bus, func(ev pipeline.SpeechEnd) {
			e.send(message{Type: msgSpeechEnd, TimestampMs: ev.Timestamp.Milliseconds()})
		}),
		pipeline.Subscribe(bus, func(seg pipeline.Segment) {
			e.send(segmentMessage(seg))
		}),
		pipeline.Subscribe(bus, func(ev pipeline.CoreError) {
			e.send(message{Type: msgError, Code: ev.Code, Message: ev.Error()})
		}),
	}
	return func() {
		for _, unsub := range subs {
			unsub()
		}
	}
}

func segmentMessage(seg pipeline.Segment) message {
	return message{
		Type:       msgSegment,
		ID:         seg.ID,
		StartMs:    seg.Start.Milliseconds(),
		EndMs:      seg.End.Milliseconds(),
		DurationMs: seg.Duration.Milliseconds(),
		SampleRate: seg.SampleRate,
		Channels:   seg.Channels,
		Samples:    len(seg.PCM),
	}
}

// send queues m without blocking.
func (e *eventWriter) send(m message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.out <- m:
	default:
		n := e.drops.Add(1)
		e.log.Warn("server: event buffer full, dropping message", "type", m.Type, "dropped", n)
	}
}

// run writes queued messages until close is called. Writes are not bound to
// the request context so the final events still reach a client that is
// connected while the server shuts down.
func (e *eventWriter) run() {
	defer close(e.done)
	for m := range e.out {
		data, err := json.Marshal(m)
		if err != nil {
			e.log.Error("server: encode event", "type", m.Type, "err", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
		err = e.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			e.log.Debug("server: write event", "type", m.Type, "err", err)
		}
	}
}

// close stops accepting messages and waits until the queued ones are
// written.
func (e *eventWriter) close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.out)
	}
	e.mu.Unlock()
	<-e.done
}

func (e *eventWriter) dropped() int64 { return e.drops.Load() }
