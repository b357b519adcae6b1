package sink_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/internal/sink"
	"github.com/MrWong99/voxseg/internal/sink/mock"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counter sums the data points of an Int64 counter that carry attr.
func counter(t *testing.T, reader *sdkmetric.ManualReader, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, met.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func segment(id string) pipeline.Segment {
	return pipeline.Segment{ID: id, SampleRate: 16000, Channels: 1, PCM: []int16{1, 2, 3}}
}

func ids(segs []pipeline.Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.ID
	}
	return out
}

func closeDispatcher(t *testing.T, d *sink.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDispatcher_WritesEverySinkInOrder(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	a, b := &mock.Sink{SinkName: "a"}, &mock.Sink{SinkName: "b"}
	d := sink.NewDispatcher(context.Background(), []sink.Sink{a, b},
		sink.WithStreamID("mic-1"),
		sink.WithMetrics(m),
	)

	bus := pipeline.NewBus()
	detach := d.Attach(bus)
	for _, id := range []string{"s1", "s2", "s3"} {
		bus.Emit(segment(id))
	}
	detach()
	bus.Emit(segment("ignored"))
	closeDispatcher(t, d)

	want := []string{"s1", "s2", "s3"}
	for _, s := range []*mock.Sink{a, b} {
		if got := ids(s.Written()); !slices.Equal(got, want) {
			t.Errorf("%s: got %v, want %v", s.Name(), got, want)
		}
		for _, stream := range s.StreamIDs() {
			if stream != "mic-1" {
				t.Errorf("%s: stream = %q, want mic-1", s.Name(), stream)
			}
		}
	}
	if n := counter(t, reader, "voxseg.sink.writes", attribute.String("status", "ok")); n != 6 {
		t.Errorf("ok writes = %d, want 6", n)
	}
}

func TestDispatcher_FailingSinkDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	bad := &mock.Sink{SinkName: "bad", WriteError: errors.New("disk full")}
	good := &mock.Sink{SinkName: "good"}
	d := sink.NewDispatcher(context.Background(), []sink.Sink{bad, good}, sink.WithMetrics(m))

	d.Enqueue(segment("s1"))
	closeDispatcher(t, d)

	if got := ids(good.Written()); !slices.Equal(got, []string{"s1"}) {
		t.Errorf("good sink: got %v", got)
	}
	if got := good.StreamIDs(); !slices.Equal(got, []string{sink.DefaultStream}) {
		t.Errorf("stream ids: got %v, want default", got)
	}
	if n := counter(t, reader, "voxseg.sink.writes", attribute.String("status", "error")); n != 1 {
		t.Errorf("failed writes = %d, want 1", n)
	}
}

func TestDispatcher_QueueFullDropsNewest(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s := &mock.Sink{
		Block: release,
		OnWrite: func(context.Context, pipeline.Segment) {
			select {
			case started <- struct{}{}:
			default:
			}
		},
	}
	d := sink.NewDispatcher(context.Background(), []sink.Sink{s},
		sink.WithQueueSize(1),
		sink.WithMetrics(m),
		sink.WithStreamID("mic-2"),
	)

	if !d.Enqueue(segment("s1")) {
		t.Fatal("s1 should be accepted")
	}
	<-started // s1 is being written; the queue is empty again
	if !d.Enqueue(segment("s2")) {
		t.Fatal("s2 should be queued")
	}
	if d.Enqueue(segment("s3")) {
		t.Fatal("s3 should be dropped")
	}
	close(release)
	closeDispatcher(t, d)

	if got := ids(s.Written()); !slices.Equal(got, []string{"s1", "s2"}) {
		t.Errorf("written: got %v, want [s1 s2]", got)
	}
	if n := counter(t, reader, "voxseg.sink.queue.dropped", attribute.String("stream", "mic-2")); n != 1 {
		t.Errorf("dropped = %d, want 1", n)
	}
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)
	s := &mock.Sink{}
	d := sink.NewDispatcher(context.Background(), []sink.Sink{s}, sink.WithMetrics(m))
	closeDispatcher(t, d)
	closeDispatcher(t, d) // idempotent

	if d.Enqueue(segment("late")) {
		t.Error("Enqueue after Close should report false")
	}
	if len(s.Written()) != 0 {
		t.Errorf("late segment was written")
	}
	if s.CallCountClose != 0 {
		t.Error("Close must not close the sinks")
	}
}

func TestDispatcher_CloseHonoursContext(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)
	release := make(chan struct{})
	defer close(release)
	d := sink.NewDispatcher(context.Background(), []sink.Sink{&mock.Sink{Block: release}}, sink.WithMetrics(m))
	d.Enqueue(segment("stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close: got %v, want deadline exceeded", err)
	}
}

func TestDispatcher_WriteTimeout(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	never := make(chan struct{})
	s := &mock.Sink{SinkName: "slow", Block: never}
	d := sink.NewDispatcher(context.Background(), []sink.Sink{s},
		sink.WithMetrics(m),
		sink.WithWriteTimeout(10*time.Millisecond),
	)
	d.Enqueue(segment("s1"))
	closeDispatcher(t, d)

	if n := counter(t, reader, "voxseg.sink.writes", attribute.String("sink", "slow")); n != 1 {
		t.Errorf("writes = %d, want 1", n)
	}
}

func TestDispatcher_NoSinks(t *testing.T) {
	t.Parallel()
	d := sink.NewDispatcher(context.Background(), nil)
	if !d.Enqueue(segment("s1")) {
		t.Error("Enqueue without sinks should succeed")
	}
	closeDispatcher(t, d)
}

func TestStreamFromContext(t *testing.T) {
	t.Parallel()
	if got := sink.StreamFromContext(context.Background()); got != sink.DefaultStream {
		t.Errorf("got %q, want %q", got, sink.DefaultStream)
	}
	ctx := sink.ContextWithStream(context.Background(), "room-7")
	if got := sink.StreamFromContext(ctx); got != "room-7" {
		t.Errorf("got %q, want room-7", got)
	}
}
