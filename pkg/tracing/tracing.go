// Package tracing configures OpenTelemetry trace export.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(context.Context) error

// Option configures Setup.
type Option func(*settings)

type settings struct {
	exporter sdktrace.SpanExporter
	sampler  sdktrace.Sampler
}

// WithExporter replaces the OTLP exporter, mainly for tests.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(s *settings) { s.exporter = exp }
}

// WithSampler sets the sampler. Spans are always sampled by default.
func WithSampler(sampler sdktrace.Sampler) Option {
	return func(s *settings) {
		if sampler != nil {
			s.sampler = sampler
		}
	}
}

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when endpoint is empty and no exporter is supplied,
// Setup returns a no-op shutdown function and no global provider is
// registered. Engines keep calling otel.Tracer, which is a no-op then.
func Setup(ctx context.Context, endpoint, serviceName string, opts ...Option) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	s := settings{sampler: sdktrace.AlwaysSample()}
	for _, opt := range opts {
		opt(&s)
	}

	if s.exporter == nil {
		if endpoint == "" {
			return noop, nil
		}
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return noop, fmt.Errorf("otlp exporter: %w", err)
		}
		s.exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(s.exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(s.sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
