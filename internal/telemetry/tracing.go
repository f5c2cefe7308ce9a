// Package telemetry wires OpenTelemetry tracing and Prometheus metrics
// around the Execution Pipeline (spec §4.8): span helpers (the pipeline
// opens one "pipeline.propose" span per Propose call), counters for step
// outcomes, and gauges for drift scores and safe-mode transitions.
//
// Grounded on the reference repo's internal/observability package: a
// *Tracer wrapping an sdktrace.TracerProvider with named Trace* helpers
// per subsystem, and a *Metrics struct of promauto-registered
// CounterVec/HistogramVec/GaugeVec fields built once at startup. That
// package exports traces over OTLP/gRPC; this one has no collector to
// ship to, so its TracerProvider has no span processor or exporter of its
// own; one is registered only when the caller supplies
// TraceConfig.SpanProcessor.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures the kernel's tracer provider.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// SpanProcessor, if set, is the only processor registered on the
	// provider, letting a caller attach a real exporter (OTLP, stdout,
	// etc.) without this package depending on one. When nil, spans are
	// created but not exported anywhere.
	SpanProcessor sdktrace.SpanProcessor
}

// Tracer wraps a trace.Tracer with span helpers named after each pipeline
// stage, mirroring the reference repo's TraceToolExecution/TraceLLMRequest
// style but scoped to the Execution Pipeline's twelve-step sequence.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a TracerProvider and registers it as the global
// provider, returning a Tracer plus a shutdown func the caller must run
// on exit.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "autonomy-kernel"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if config.SpanProcessor != nil {
		opts = append(opts, sdktrace.WithSpanProcessor(config.SpanProcessor))
	}
	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return &Tracer{provider: provider, tracer: provider.Tracer(config.ServiceName)}, provider.Shutdown
}

// Start begins a span with the given name.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError records err on span and marks the span as errored, a no-op
// if err is nil.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TracePipelineStep starts a span named for one of the Execution
// Pipeline's steps (propose, validate, approve, execute, verify,
// compensate), tagged with the request and tool.
func (t *Tracer) TracePipelineStep(ctx context.Context, step, requestID, tool string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("pipeline.%s", step),
		attribute.String("request_id", requestID),
		attribute.String("tool", tool),
	)
}

// TraceOrchestratorRun starts a span covering one Orchestrator.Run call.
func (t *Tracer) TraceOrchestratorRun(ctx context.Context, goal string) (context.Context, trace.Span) {
	return t.Start(ctx, "orchestrator.run", attribute.String("goal", goal))
}
