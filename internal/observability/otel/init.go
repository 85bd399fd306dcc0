// Package otel wires an OTLP trace exporter, adapted from the teacher's
// observability/otel package: the same resource/exporter/tracer-provider
// assembly, trimmed to the trace half only (the engine has no meter
// instruments of its own — internal/observability/metrics already covers
// that surface via prometheus — so the metrics exporter half the teacher
// wires alongside traces is dropped rather than carried unused).
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Init configures the global trace provider for serviceName and returns a
// shutdown function the caller must invoke during teardown. The exporter
// targets localhost:4318 unless endpoint is non-empty.
func Init(ctx context.Context, serviceName, endpoint string) (func(context.Context) error, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("service name required for telemetry")
	}
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(2*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns a tracer named for the core engine, drawn from whatever
// provider Init last installed globally. No code in the module opens spans
// on it.
func Tracer() trace.Tracer {
	return otel.Tracer("predcore/internal/engine")
}
