// Package telemetry owns the OpenTelemetry side of acp-traces: OTLP
// trace and metric exporter construction, the tracer/meter providers, and a
// narrow Exporter seam the interceptor core emits through.
//
// Every operation on the seam is non-blocking; the SDK's batch span
// processor and periodic metric reader buffer internally. The interceptor
// must never stall the forwarded byte stream on telemetry.
package telemetry

import (
	"context"
	"time"
)

// Histogram names emitted by the interceptor, per the GenAI semantic
// conventions. Both are recorded in seconds.
const (
	MetricOperationDuration = "gen_ai.client.operation.duration"
	MetricTimeToFirstToken  = "gen_ai.server.time_to_first_token"
)

// SpanKind mirrors the two OTel span kinds the interceptor emits.
type SpanKind int

const (
	KindInternal SpanKind = iota
	KindClient
)

// Span is an opaque handle to a started span.
type Span interface {
	// SetAttribute sets a single attribute. Supported value types are
	// string, bool, int, int64, float64 and []string.
	SetAttribute(key string, value any)

	// RecordError sets the error.type attribute and marks the span status
	// as Error with the given message.
	RecordError(errType, message string)

	// End finishes the span at the given time. Ending twice is a no-op.
	End(end time.Time)
}

// Exporter is the collaborator contract the interceptor core depends on.
// The production implementation is OTLP (New); tests use a recorder.
type Exporter interface {
	// StartSpan starts a span. A nil parent starts a root span.
	StartSpan(name string, kind SpanKind, parent Span, start time.Time) Span

	// RecordHistogram records one observation on the named histogram.
	// Unknown names are ignored.
	RecordHistogram(name string, value float64, attrs map[string]string)

	// Shutdown flushes buffered telemetry and releases the transport.
	// The context bounds the flush.
	Shutdown(ctx context.Context) error
}
