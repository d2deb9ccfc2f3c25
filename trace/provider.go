// Package trace provides tracing instrumentation for browser automation
// runs: one span per navigation, with waits and operations attached to
// the navigation they happened under.
package trace

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "hweb"
	tracerName  = "hweb.browser"
)

// TraceProvider initializes tracers and shuts the processing pipeline
// down.
type TraceProvider interface {
	Tracer(name string, options ...trace.TracerOption) trace.Tracer
	Shutdown(ctx context.Context) error
}

type traceProvider struct {
	trace.TracerProvider

	noop     bool
	shutdown func(ctx context.Context) error
}

// NewTraceProvider creates a provider exporting spans to w as line-
// delimited JSON.
func NewTraceProvider(w io.Writer) (TraceProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating trace exporter")
	}

	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)
	otel.SetTracerProvider(prov)

	return &traceProvider{
		TracerProvider: prov,
		shutdown:       prov.Shutdown,
	}, nil
}

// NewNoopTraceProvider creates a provider that records nothing.
func NewNoopTraceProvider() TraceProvider {
	prov := trace.NewNoopTracerProvider()
	return &traceProvider{TracerProvider: prov, noop: true}
}

// Shutdown flushes and releases the processing pipeline. After Shutdown
// all methods are no-ops.
func (tp *traceProvider) Shutdown(ctx context.Context) error {
	if tp.noop {
		return nil
	}
	return tp.shutdown(ctx)
}
