package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig selects the collector and sampling used by InitTracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string // OTLP/gRPC collector host:port; empty disables tracing
	Insecure       bool
	SampleRatio    float64 // fraction of new root traces kept; children follow their parent
}

const botTracer = "enisa-bot"

// InitTracing installs the global tracer provider. With no endpoint it leaves the
// no-op provider in place and returns a no-op shutdown.
func InitTracing(ctx context.Context, tc TracingConfig) (func(), error) {
	if tc.Endpoint == "" {
		slog.Info("tracing disabled: no OTLP endpoint configured")
		return func() {}, nil
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(tc.Endpoint)}
	if tc.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(setupCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}

	res, err := resource.New(setupCtx, resource.WithAttributes(
		semconv.ServiceName(tc.ServiceName),
		semconv.ServiceVersion(tc.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing initialized",
		slog.String("endpoint", tc.Endpoint),
		slog.Bool("insecure", tc.Insecure),
		slog.Float64("sample_ratio", tc.SampleRatio))

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("tracer provider shutdown failed", slog.Any("err", err))
		}
	}, nil
}

// StartSpan starts a span on the named tracer, tagging it with the correlation id
// carried by ctx.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// SetSpanResult marks the span failed with err, or OK when err is nil.
func SetSpanResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartConnectSpan opens the span for one connection attempt: session acquire and
// dial. The session acquire span nests under it.
func StartConnectSpan(ctx context.Context, user string, attempt int) (context.Context, trace.Span) {
	return StartSpan(ctx, botTracer, "bot.connect",
		attribute.String("howdies.user", user),
		attribute.Int("bot.connect.attempt", attempt))
}

// EndConnectSpan records how the attempt ended ("connected", "abandoned" or an
// error class) and ends the span.
func EndConnectSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("bot.connect.outcome", outcome))
	SetSpanResult(span, err)
	span.End()
}

// SetSpanHTTPStatus records the response status and marks 5xx responses as errors.
func SetSpanHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= 500 {
		span.SetStatus(codes.Error, fmt.Sprintf("http %d", status))
	}
}

// AttrString builds a string span attribute.
func AttrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func HTTPMethodAttr(method string) attribute.KeyValue { return attribute.String("http.method", method) }
func HTTPRouteAttr(route string) attribute.KeyValue   { return attribute.String("http.route", route) }
func HTTPURLAttr(u string) attribute.KeyValue         { return attribute.String("http.url", u) }
