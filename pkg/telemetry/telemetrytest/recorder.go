// Package telemetrytest provides an in-memory Exporter for tests, so the
// span tree and histogram observations produced by the interceptor can be
// asserted without a running collector.
package telemetrytest

import (
	"context"
	"sync"
	"time"

	"github.com/papercomputeco/acptraces/pkg/telemetry"
)

// RecordedSpan captures everything the interceptor did to one span handle.
type RecordedSpan struct {
	Name       string
	Kind       telemetry.SpanKind
	Parent     *RecordedSpan
	Start      time.Time
	EndTime    time.Time
	Ended      bool
	Attributes map[string]any
	ErrType    string
	ErrMessage string
	HasError   bool
}

// SetAttribute implements telemetry.Span.
func (s *RecordedSpan) SetAttribute(key string, value any) {
	s.Attributes[key] = value
}

// RecordError implements telemetry.Span.
func (s *RecordedSpan) RecordError(errType, message string) {
	s.HasError = true
	s.ErrType = errType
	s.ErrMessage = message
}

// End implements telemetry.Span.
func (s *RecordedSpan) End(end time.Time) {
	if s.Ended {
		return
	}
	s.Ended = true
	s.EndTime = end
}

// HistogramPoint is a single recorded histogram observation.
type HistogramPoint struct {
	Name       string
	Value      float64
	Attributes map[string]string
}

// Recorder implements telemetry.Exporter in memory.
type Recorder struct {
	mu         sync.Mutex
	Spans      []*RecordedSpan
	Histograms []HistogramPoint
	ShutdownN  int
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// StartSpan implements telemetry.Exporter.
func (r *Recorder) StartSpan(name string, kind telemetry.SpanKind, parent telemetry.Span, start time.Time) telemetry.Span {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := &RecordedSpan{
		Name:       name,
		Kind:       kind,
		Start:      start,
		Attributes: map[string]any{},
	}
	if p, ok := parent.(*RecordedSpan); ok {
		span.Parent = p
	}
	r.Spans = append(r.Spans, span)
	return span
}

// RecordHistogram implements telemetry.Exporter.
func (r *Recorder) RecordHistogram(name string, value float64, attrs map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Histograms = append(r.Histograms, HistogramPoint{Name: name, Value: value, Attributes: attrs})
}

// Shutdown implements telemetry.Exporter.
func (r *Recorder) Shutdown(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ShutdownN++
	return nil
}

// FindSpan returns the first recorded span with the given name, or nil.
func (r *Recorder) FindSpan(name string) *RecordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.Spans {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// SpansNamed returns every recorded span with the given name.
func (r *Recorder) SpansNamed(name string) []*RecordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*RecordedSpan
	for _, s := range r.Spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// OpenSpans returns every recorded span that has not been ended.
func (r *Recorder) OpenSpans() []*RecordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*RecordedSpan
	for _, s := range r.Spans {
		if !s.Ended {
			out = append(out, s)
		}
	}
	return out
}

// HistogramValues returns the recorded values for the named histogram.
func (r *Recorder) HistogramValues(name string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []float64
	for _, h := range r.Histograms {
		if h.Name == name {
			out = append(out, h.Value)
		}
	}
	return out
}
