package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxseg/internal/app"
	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/audio/opus"
)

// Input formats accepted by the stream endpoint.
const (
	FormatPCM16 = "pcm16"
	FormatOpus  = "opus"
)

// opusPacketBuffer bounds the packets read ahead of the decoder.
const opusPacketBuffer = 16

// opusRates are the decode rates Opus supports.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// streamParams are the per-connection input settings.
type streamParams struct {
	id         string
	format     string
	sampleRate int
	channels   int
	frameSize  int
}

// parseParams reads the stream query parameters, falling back to d. Opus
// streams default to 48 kHz stereo.
func parseParams(q url.Values, d config.StreamConfig) (streamParams, error) {
	p := streamParams{
		id:         q.Get("stream"),
		format:     q.Get("format"),
		sampleRate: d.SampleRate,
		channels:   d.Channels,
		frameSize:  d.FrameSize,
	}
	switch p.format {
	case "":
		p.format = FormatPCM16
	case FormatPCM16:
	case FormatOpus:
		p.sampleRate = opus.DefaultSampleRate
		p.channels = opus.DefaultChannels
	default:
		return p, fmt.Errorf("unsupported format %q; valid values: pcm16, opus", p.format)
	}

	for _, f := range []struct {
		key string
		dst *int
	}{
		{"sample_rate", &p.sampleRate},
		{"channels", &p.channels},
		{"frame_size", &p.frameSize},
	} {
		raw := q.Get(f.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return p, fmt.Errorf("%s must be a non-negative integer, got %q", f.key, raw)
		}
		*f.dst = v
	}
	if p.sampleRate <= 0 {
		return p, fmt.Errorf("sample_rate must be positive, got %d", p.sampleRate)
	}
	if p.channels != 1 && p.channels != 2 {
		return p, fmt.Errorf("channels must be 1 or 2, got %d", p.channels)
	}
	if p.format == FormatOpus {
		if !slices.Contains(opusRates, p.sampleRate) {
			return p, fmt.Errorf("sample_rate %d is not supported by opus", p.sampleRate)
		}
		return p, nil
	}
	if _, err := audio.NewFramer(audio.Format{SampleRate: p.sampleRate, Channels: p.channels}, p.frameSize); err != nil {
		return p, err
	}
	return p, nil
}

// handleStream upgrades to a websocket and segments the audio the client
// sends. PCM16 streams carry raw little-endian samples in binary messages;
// opus streams carry one packet per binary message. Events are sent back as
// JSON text messages. The stream ends, and is flushed, when the client
// closes the socket.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.WithTrace(ctx, s.log)

	params, err := parseParams(r.URL.Query(), s.defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	host, err := s.app.NewStream(params.id)
	switch {
	case errors.Is(err, app.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case errors.Is(err, app.ErrStreamExists):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		log.Error("server: open stream", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	log = log.With("stream", host.ID(), "format", params.format)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.DrainTimeout)
		defer cancel()
		if err := host.Close(closeCtx); err != nil {
			log.Warn("server: close stream", "err", err)
		}
	}()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("server: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	events := newEventWriter(conn, s.eventBuffer, log)
	detach := events.attach(host.Events())
	go events.run()

	src, err := newSource(ctx, conn, params, host)
	if err != nil {
		log.Error("server: create source", "err", err)
		detach()
		events.close()
		conn.Close(websocket.StatusInternalError, "could not create audio source")
		return
	}
	events.send(message{Type: msgReady, Stream: host.ID(), SampleRate: params.sampleRate, Channels: params.channels})

	log.Info("stream started", "sample_rate", params.sampleRate, "channels", params.channels)
	start := time.Now()
	runErr := host.Run(ctx, src, true)
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), isClosed(runErr):
		log.Debug("stream ended", "err", runErr)
	default:
		log.Warn("stream failed", "err", runErr)
	}

	// Flush before detaching so the final segment reaches the client.
	if err := host.Flush(); err != nil && !errors.Is(err, app.ErrStreamClosed) {
		log.Warn("server: flush", "err", err)
	}
	detach()
	events.close()
	log.Info("stream finished", "duration", time.Since(start), "dropped_events", events.dropped())

	if ctx.Err() != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// newSource builds the audio source for one connection.
func newSource(ctx context.Context, conn *websocket.Conn, p streamParams, host *app.Host) (audio.Source, error) {
	if p.format == FormatOpus {
		packets := make(chan []byte, opusPacketBuffer)
		go readPackets(ctx, conn, packets)
		return opus.NewSource(packets, opus.Config{
			SampleRate: p.sampleRate,
			Channels:   p.channels,
			OnError:    host.ReportDecodeError,
		})
	}
	r := websocket.NetConn(ctx, conn, websocket.MessageBinary)
	return audio.NewPCM16Source(r, audio.PCM16SourceConfig{
		SampleRate: p.sampleRate,
		Channels:   p.channels,
		FrameSize:  p.frameSize,
	})
}

// readPackets forwards binary messages to packets until the connection ends
// or ctx is cancelled, then closes packets.
func readPackets(ctx context.Context, conn *websocket.Conn, packets chan<- []byte) {
	defer close(packets)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		select {
		case packets <- data:
		case <-ctx.Done():
			return
		}
	}
}

// isClosed reports whether err is the result of the peer closing the socket.
func isClosed(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
