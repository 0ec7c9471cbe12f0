// Package telemetry sets up OpenTelemetry tracing for the ghostmesh services.
package telemetry

import (
	"context"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var Logger = logger.GetLogger("telemetry")

// ShutdownFunc flushes pending spans
type ShutdownFunc func(context.Context) error

// Setup initialises tracing for serviceName and exports spans to the OTLP/HTTP
// endpoint. Tracing is opt-in: with an empty endpoint Setup returns a no-op
// shutdown function and the global provider stays untouched.
func Setup(ctx context.Context, serviceName, endpoint string) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Logger.Infof("exporting traces of %s to %s", serviceName, endpoint)
	return tp.Shutdown, nil
}
