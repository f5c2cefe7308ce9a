package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewTracer_StartAndShutdown(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-kernel"})
	require.NotNil(t, tracer)

	ctx, span := tracer.TracePipelineStep(context.Background(), "propose", "req-1", "read_file")
	assert.NotNil(t, ctx)
	span.End()

	require.NoError(t, shutdown(context.Background()))
}

func TestTracer_RecordErrorIsNoOpForNilError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-kernel"})
	defer shutdown(context.Background())

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()

	assert.NotPanics(t, func() { tracer.RecordError(span, nil) })
	assert.NotPanics(t, func() { tracer.RecordError(span, errors.New("boom")) })
}

type countingExporter struct{ spans int }

func (e *countingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.spans += len(spans)
	return nil
}

func (e *countingExporter) Shutdown(ctx context.Context) error { return nil }

func TestNewTracer_AttachesCustomSpanProcessor(t *testing.T) {
	exporter := &countingExporter{}
	tracer, shutdown := NewTracer(TraceConfig{
		ServiceName:   "test-kernel",
		SpanProcessor: sdktrace.NewSimpleSpanProcessor(exporter),
	})
	defer shutdown(context.Background())

	_, span := tracer.TraceOrchestratorRun(context.Background(), "ship the release")
	span.End()

	assert.Equal(t, 1, exporter.spans)
}
