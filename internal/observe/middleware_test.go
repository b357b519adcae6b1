package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// serve runs one request through Middleware and returns the recorder and the
// correlation id seen by the handler.
func serve(t *testing.T, m *Metrics, req *http.Request, h http.HandlerFunc) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var cid string
	wrapped := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		h(w, r)
	}))
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	return rec, cid
}

func TestMiddleware_Trace(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		status      int
		wantCID     string
	}{
		{name: "new trace", status: http.StatusOK},
		{name: "continued trace", traceparent: "00-" + incomingTraceID + "-00f067aa0ba902b7-01", status: http.StatusOK, wantCID: incomingTraceID},
		{name: "error status", status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := installTracer(t)
			m, _ := newTestMetrics(t)

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec, cid := serve(t, m, req, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			if len(cid) != 32 {
				t.Fatalf("correlation id: got %q", cid)
			}
			if tt.wantCID != "" && cid != tt.wantCID {
				t.Errorf("correlation id: got %q, want %q", cid, tt.wantCID)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != cid {
				t.Errorf("X-Correlation-ID: got %q, want %q", got, cid)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans: got %d, want 1", len(spans))
			}
			if spans[0].Name != "HTTP GET /readyz" {
				t.Errorf("span name: got %q", spans[0].Name)
			}
			var status int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != int64(tt.status) {
				t.Errorf("span status attribute: got %d, want %d", status, tt.status)
			}
		})
	}
}

func TestMiddleware_RequestDuration(t *testing.T) {
	installTracer(t)
	m, reader := newTestMetrics(t)
	for range 3 {
		serve(t, m, httptest.NewRequest(http.MethodGet, "/healthz", nil), func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}

	met := findMetric(collect(t, reader), "voxseg.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("got %T with %d points, want one float64 histogram point", met.Data, len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 3 {
		t.Errorf("count: got %d, want 3", dp.Count)
	}
	if v, _ := dp.Attributes.Value("path"); v.AsString() != "/healthz" {
		t.Errorf("path attribute: got %q", v.AsString())
	}
	if v, _ := dp.Attributes.Value("method"); v.AsString() != http.MethodGet {
		t.Errorf("method attribute: got %q", v.AsString())
	}
}

// A recorder cannot be hijacked; the wrapper must surface that instead of
// hiding the Hijacker interface websocket upgrades rely on.
func TestMiddleware_Hijack(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)
	var hijackErr error
	rec, _ := serve(t, m, httptest.NewRequest(http.MethodGet, "/v1/stream", nil), func(w http.ResponseWriter, _ *http.Request) {
		_, _, hijackErr = http.NewResponseController(w).Hijack()
		w.WriteHeader(http.StatusNoContent)
	})
	if hijackErr == nil {
		t.Error("Hijack on a recorder: got nil error")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status: got %d, want 204", rec.Code)
	}
}
