package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// StageName is the name of the metrics stage.
const StageName = "metrics"

// Stage is a pipeline stage that records frame, VAD and segment metrics.
// Attach it after the segmenter so it sees every event of a frame.
type Stage struct {
	m      *Metrics
	stream attribute.KeyValue
}

var _ pipeline.Stage = (*Stage)(nil)

// NewStage returns a metrics stage labelling every measurement with stream.
func NewStage(m *Metrics, stream string) *Stage {
	return &Stage{m: m, stream: attribute.String("stream", stream)}
}

// Name implements [pipeline.Stage].
func (s *Stage) Name() string { return StageName }

// Setup implements [pipeline.Stage].
func (s *Stage) Setup(ctx *pipeline.StageContext) error {
	pipeline.On(ctx, func(v pipeline.VADScore) {
		s.m.VADDecisions.Add(context.Background(), 1, metric.WithAttributes(
			s.stream,
			attribute.Bool("speech", v.Speech),
		))
	})
	pipeline.On(ctx, func(seg pipeline.Segment) {
		opt := metric.WithAttributes(s.stream)
		s.m.Segments.Add(context.Background(), 1, opt)
		s.m.SegmentDuration.Record(context.Background(), seg.Duration.Seconds(), opt)
	})
	return nil
}

// Handle implements [pipeline.Stage].
func (s *Stage) Handle(audio.Frame) error {
	s.m.Frames.Add(context.Background(), 1, metric.WithAttributes(s.stream))
	return nil
}

// WatchErrors counts every [pipeline.CoreError] emitted on bus, including
// queue overflows raised while no stage is attached. Call the returned
// function to stop.
func WatchErrors(bus *pipeline.Bus, m *Metrics, stream string) (stop func()) {
	streamAttr := attribute.String("stream", stream)
	return pipeline.Subscribe(bus, func(e pipeline.CoreError) {
		ctx := context.Background()
		m.PipelineErrors.Add(ctx, 1, metric.WithAttributes(streamAttr, attribute.String("code", e.Code)))
		if e.Code == pipeline.CodeQueueOverflow {
			m.FramesDropped.Add(ctx, 1, metric.WithAttributes(streamAttr))
		}
	})
}
