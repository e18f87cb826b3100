// Package telemetry sets up OpenTelemetry tracing for the bot.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/spotted/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

var enabled atomic.Bool

// Init installs an OTLP/gRPC tracer provider exporting to endpoint. An
// empty endpoint leaves the global no-op provider in place. The returned
// function flushes and shuts the provider down.
func Init(ctx context.Context, endpoint, serviceName, serviceVersion string) (func(), error) {
	log := logger.Named("telemetry")
	if endpoint == "" {
		log.Info(ctx, "tracing disabled: otel_endpoint not set")
		return func() {}, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	exporter, err := otlptracegrpc.New(initCtx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(initCtx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	enabled.Store(true)
	log.Info(ctx, "tracing initialized", logger.String("service", serviceName), logger.String("endpoint", endpoint))

	return func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Error(sctx, "failed to shutdown tracer provider", logger.Error(err))
		}
		enabled.Store(false)
	}, nil
}

// Enabled reports whether an exporting provider is installed.
func Enabled() bool {
	return enabled.Load()
}

// StartSpan starts a span on the named tracer of the global provider.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
