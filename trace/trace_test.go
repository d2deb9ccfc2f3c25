package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/headlessweb/hweb/log"
)

type recordingProvider struct {
	*sdktrace.TracerProvider
}

func (p recordingProvider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return p.TracerProvider.Tracer(name, options...)
}

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tracer := NewTracer(log.NewNullLogger(), recordingProvider{tp}, map[string]string{"run": "test"})
	return tracer, sr
}

func TestTraceNavigationEndsPreviousSpan(t *testing.T) {
	t.Parallel()
	tracer, sr := newRecordingTracer(t)
	ctx := context.Background()

	tracer.TraceNavigation(ctx, "page-1", "https://a.test/")
	tracer.TraceNavigation(ctx, "page-1", "https://b.test/")

	ended := sr.Ended()
	require.Len(t, ended, 1, "the first navigation span must end when the second starts")
	assert.Equal(t, "navigation", ended[0].Name())

	tracer.EndNavigation("page-1")
	assert.Len(t, sr.Ended(), 2)
}

func TestTraceOperationParentsToLiveNavigation(t *testing.T) {
	t.Parallel()
	tracer, sr := newRecordingTracer(t)
	ctx := context.Background()

	navCtx, _ := tracer.TraceNavigation(ctx, "page-1", "https://a.test/")
	_, opSpan := tracer.TraceOperation(ctx, "page-1", "wait_for_selector")
	opSpan.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "wait_for_selector", ended[0].Name())
	assert.Equal(t,
		trace.SpanContextFromContext(navCtx).SpanID(),
		ended[0].Parent().SpanID(),
		"operations attach to the live navigation span")
}

func TestTraceOperationWithoutNavigationUsesCaller(t *testing.T) {
	t.Parallel()
	tracer, sr := newRecordingTracer(t)

	_, span := tracer.TraceOperation(context.Background(), "unknown-page", "fill_input")
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Parent().IsValid(), "without a live span the operation is a root span")
}

func TestAddEventGuardsAgainstStaleSpans(t *testing.T) {
	t.Parallel()
	tracer, sr := newRecordingTracer(t)
	ctx := context.Background()

	navCtx, _ := tracer.TraceNavigation(ctx, "page-1", "https://a.test/")
	liveID := trace.SpanContextFromContext(navCtx).SpanID().String()

	tracer.AddEvent("page-1", "first-paint", liveID)
	tracer.AddEvent("page-1", "stale-event", "0000000000000000")
	tracer.AddEvent("other-page", "orphan-event", liveID)
	tracer.EndNavigation("page-1")

	ended := sr.Ended()
	require.Len(t, ended, 1)
	events := ended[0].Events()
	require.Len(t, events, 1, "stale and orphan events must be dropped")
	assert.Equal(t, "first-paint", events[0].Name)
}

func TestTraceIDFromContext(t *testing.T) {
	t.Parallel()
	tracer, _ := newRecordingTracer(t)

	assert.Empty(t, TraceID(context.Background()))
	navCtx, _ := tracer.TraceNavigation(context.Background(), "page-1", "https://a.test/")
	assert.NotEmpty(t, TraceID(navCtx))
	tracer.EndNavigation("page-1")
}
