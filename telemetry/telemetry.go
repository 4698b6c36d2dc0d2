package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.uber.org/zap"
)

// GetJaegerExporterOrNoop returns an exporter sending spans to the Jaeger
// collector at url, or one that drops them when url is empty or unusable.
func GetJaegerExporterOrNoop(log *zap.Logger, url string) tracesdk.SpanExporter {
	if url == "" {
		return tracetest.NewNoopExporter()
	}
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(url)))
	if err != nil {
		log.Error("failed to create jaeger exporter", zap.String("url", url), zap.Error(err))
		return tracetest.NewNoopExporter()
	}
	return exp
}

// RegisterOpenTelemetry installs a batching tracer provider over exp as the
// global provider, with W3C trace context and baggage propagation.
func RegisterOpenTelemetry(exp tracesdk.SpanExporter, serviceName string, environment string) *tracesdk.TracerProvider {
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("environment", environment),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
	return tp
}
