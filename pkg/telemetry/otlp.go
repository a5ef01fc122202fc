package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/papercomputeco/acptraces/pkg/config"
	"github.com/papercomputeco/acptraces/pkg/utils"
)

const instrumentationName = "acp-traces"

// Config holds the exporter construction options.
type Config struct {
	// Endpoint is the OTLP collector endpoint, e.g. "http://localhost:4317".
	Endpoint string

	// Protocol is the OTLP transport, config.ProtocolGRPC or config.ProtocolHTTP.
	Protocol string

	// ServiceName becomes the service.name resource attribute.
	ServiceName string
}

// OTLP implements Exporter against the OpenTelemetry SDK with OTLP
// trace and metric exporters.
type OTLP struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	histograms     map[string]metric.Float64Histogram
	logger         *zap.Logger
}

// New builds the OTLP exporter pair (traces + metrics) for the configured
// protocol and wraps them in providers tagged with the service resource.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*OTLP, error) {
	host, insecure, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing OTLP endpoint: %w", err)
	}

	var traceExporter *otlptrace.Exporter
	var metricExporter sdkmetric.Exporter

	switch cfg.Protocol {
	case config.ProtocolGRPC:
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(host)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(host)}
		if insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		traceExporter, err = otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP gRPC trace exporter: %w", err)
		}
		metricExporter, err = otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP gRPC metric exporter: %w", err)
		}

	case config.ProtocolHTTP:
		traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(host)}
		metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
		if insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
		traceExporter, err = otlptracehttp.New(ctx, traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP HTTP trace exporter: %w", err)
		}
		metricExporter, err = otlpmetrichttp.New(ctx, metricOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP HTTP metric exporter: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown OTLP protocol: %q", cfg.Protocol)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(utils.Version),
		semconv.ServiceInstanceID(uuid.NewString()),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(10*time.Second))),
		sdkmetric.WithResource(res),
	)

	meter := meterProvider.Meter(instrumentationName)

	durationHist, err := meter.Float64Histogram(MetricOperationDuration,
		metric.WithUnit("s"),
		metric.WithDescription("GenAI operation duration"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	ttftHist, err := meter.Float64Histogram(MetricTimeToFirstToken,
		metric.WithUnit("s"),
		metric.WithDescription("Time to generate first token"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating TTFT histogram: %w", err)
	}

	return &OTLP{
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
		tracer:         tracerProvider.Tracer(instrumentationName),
		histograms: map[string]metric.Float64Histogram{
			MetricOperationDuration: durationHist,
			MetricTimeToFirstToken:  ttftHist,
		},
		logger: logger,
	}, nil
}

// StartSpan implements Exporter.
func (o *OTLP) StartSpan(name string, kind SpanKind, parent Span, start time.Time) Span {
	ctx := context.Background()
	if p, ok := parent.(*otlpSpan); ok && p != nil {
		ctx = trace.ContextWithSpan(ctx, p.span)
	}

	spanKind := trace.SpanKindInternal
	if kind == KindClient {
		spanKind = trace.SpanKindClient
	}

	_, span := o.tracer.Start(ctx, name,
		trace.WithSpanKind(spanKind),
		trace.WithTimestamp(start),
	)

	return &otlpSpan{span: span}
}

// RecordHistogram implements Exporter.
func (o *OTLP) RecordHistogram(name string, value float64, attrs map[string]string) {
	hist, ok := o.histograms[name]
	if !ok {
		o.logger.Debug("unknown histogram", zap.String("name", name))
		return
	}

	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}

	hist.Record(context.Background(), value, metric.WithAttributes(kvs...))
}

// Shutdown flushes and releases both providers. The passed context bounds
// the flush; a deadline-exceeded error is returned but the providers are
// shut down regardless.
func (o *OTLP) Shutdown(ctx context.Context) error {
	return errors.Join(
		o.tracerProvider.ForceFlush(ctx),
		o.meterProvider.ForceFlush(ctx),
		o.tracerProvider.Shutdown(ctx),
		o.meterProvider.Shutdown(ctx),
	)
}

type otlpSpan struct {
	span trace.Span
}

func (s *otlpSpan) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case []string:
		s.span.SetAttributes(attribute.StringSlice(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otlpSpan) RecordError(errType, message string) {
	s.span.SetAttributes(attribute.String("error.type", errType))
	s.span.SetStatus(codes.Error, message)
}

func (s *otlpSpan) End(end time.Time) {
	s.span.End(trace.WithTimestamp(end))
}

// parseEndpoint splits an endpoint like "http://localhost:4317" into the
// host:port form the OTLP exporters expect, reporting whether transport
// security should be disabled. A bare "host:port" is treated as insecure,
// matching collector defaults on loopback.
func parseEndpoint(raw string) (string, bool, error) {
	if raw == "" {
		return "", false, errors.New("empty endpoint")
	}

	if !strings.Contains(raw, "://") {
		return raw, true, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", raw)
	}

	switch u.Scheme {
	case "http":
		return u.Host, true, nil
	case "https":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme: %q", u.Scheme)
	}
}
