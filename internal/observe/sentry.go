package observe

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// SentryConfig configures [InitSentry].
type SentryConfig struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
}

// InitSentry initialises the global Sentry client. With an empty DSN it does
// nothing. The returned flush function waits up to two seconds for buffered
// events; defer it from main().
func InitSentry(cfg SentryConfig) (flush func(), err error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
	})
	if err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// ErrorReporter forwards pipeline error events to Sentry.
type ErrorReporter struct {
	hub *sentry.Hub
}

// NewErrorReporter returns a reporter sending through hub. A nil hub selects
// the current global hub.
func NewErrorReporter(hub *sentry.Hub) *ErrorReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &ErrorReporter{hub: hub}
}

// Attach reports every [pipeline.CoreError] emitted on bus, tagged with the
// stream id and error code. Call the returned function to stop.
func (r *ErrorReporter) Attach(bus *pipeline.Bus, stream string) (detach func()) {
	return pipeline.Subscribe(bus, func(e pipeline.CoreError) {
		r.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("stream", stream)
			scope.SetTag("code", e.Code)
			scope.SetLevel(sentry.LevelError)
			r.hub.CaptureException(e)
		})
	})
}

// Report sends err with the given tags.
func (r *ErrorReporter) Report(err error, tags map[string]string) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}

// Recover is HTTP middleware that reports panics to Sentry and answers 500.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}
