package trace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/headlessweb/hweb/log"
)

// liveSpan is the active navigation span for one page. Waits and
// operations resolve asynchronously, after the method that started them
// has returned, so the tracer keeps the current navigation span
// addressable by page id for late arrivals to attach to.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates spans for browser automation runs: one span per
// navigation, with operations and waits parented to the navigation they
// ran under.
type Tracer struct {
	logger *log.Logger

	trace.Tracer

	metadata []attribute.KeyValue

	liveSpansMu sync.Mutex
	liveSpans   map[string]*liveSpan
}

// NewTracer creates a Tracer from the given provider. metadata is
// attached to every span.
func NewTracer(logger *log.Logger, tp TraceProvider, metadata map[string]string, options ...trace.TracerOption) *Tracer {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Tracer{
		logger:    logger,
		Tracer:    tp.Tracer(tracerName, options...),
		metadata:  buildMetadataAttributes(metadata),
		liveSpans: make(map[string]*liveSpan),
	}
}

// Start overrides the underlying tracer method to include the tracer
// metadata.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// TraceNavigation records a new live span for pageID. A previous live
// span for the same page is ended first: one page has at most one
// navigation in flight.
func (t *Tracer) TraceNavigation(ctx context.Context, pageID, url string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[pageID]
	if ls != nil {
		ls.span.End()
	} else {
		ls = &liveSpan{}
	}

	opts = append(opts, trace.WithAttributes(attribute.String("url", url)))
	ls.ctx, ls.span = t.Start(ctx, "navigation", opts...)
	t.liveSpans[pageID] = ls

	t.logger.Debugf("Tracer:navigation", "span started for page %q url %q", pageID, url)
	return ls.ctx, ls.span
}

// EndNavigation ends and forgets the live span for pageID, if any.
func (t *Tracer) EndNavigation(pageID string) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	if ls := t.liveSpans[pageID]; ls != nil {
		ls.span.End()
		delete(t.liveSpans, pageID)
	}
}

// TraceOperation adds a span for one operation (a wait, an interaction,
// a session step) under the live navigation span for pageID. Without a
// live span the operation span is parented to ctx instead. Ending the
// returned span is the caller's responsibility.
func (t *Tracer) TraceOperation(ctx context.Context, pageID, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	if ls := t.liveSpans[pageID]; ls != nil {
		return t.Start(ls.ctx, spanName, opts...)
	}
	t.logger.Tracef("Tracer:operation", "no live navigation for page %q, parenting %q to caller", pageID, spanName)
	return t.Start(ctx, spanName, opts...)
}

// AddEvent attaches an event to the live navigation span for pageID
// only if spanID still identifies that span. A stale spanID means the
// page navigated since the event was generated; the event is dropped
// rather than misattributed to the wrong navigation.
func (t *Tracer) AddEvent(pageID, eventName, spanID string, options ...trace.EventOption) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[pageID]
	if ls == nil {
		t.logger.Debugf("Tracer:event", "no live navigation for page %q, dropping %q", pageID, eventName)
		return
	}
	if sid := ls.span.SpanContext().SpanID().String(); sid != spanID {
		t.logger.Debugf("Tracer:event", "span %q superseded by %q, dropping %q", spanID, sid, eventName)
		return
	}
	ls.span.AddEvent(eventName, options...)
}

// TraceID returns the trace id of the span wrapped in ctx, or "".
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		return spanCtx.TraceID().String()
	}
	return ""
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	meta := make([]attribute.KeyValue, 0, len(metadata))
	for mk, mv := range metadata {
		meta = append(meta, attribute.String(mk, mv))
	}
	return meta
}
