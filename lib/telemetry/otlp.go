package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type otlpEndpoint struct {
	GrpcEndpoint string `json:"grpc_endpoint"`
	HttpEndpoint string `json:"http_endpoint"`
}

type config struct {
	Otlp struct {
		Traces  otlpEndpoint `json:"traces"`
		Metrics otlpEndpoint `json:"metrics"`
	} `json:"otlp"`
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

func newTraceExporter(ctx context.Context, cfg config) (trace.SpanExporter, error) {
	if cfg.Otlp.Traces.GrpcEndpoint != "" {
		slog.Info(
			"exporting traces over grpc",
			"endpoint", cfg.Otlp.Traces.GrpcEndpoint,
		)
		return otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpointURL(cfg.Otlp.Traces.GrpcEndpoint),
		)
	}
	slog.Info(
		"exporting traces over http",
		"endpoint", cfg.Otlp.Traces.HttpEndpoint,
	)
	return otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpointURL(cfg.Otlp.Traces.HttpEndpoint),
	)
}

func newMetricExporter(ctx context.Context, cfg config) (metric.Exporter, error) {
	if cfg.Otlp.Metrics.GrpcEndpoint != "" {
		slog.Info(
			"exporting metrics over grpc",
			"endpoint", cfg.Otlp.Metrics.GrpcEndpoint,
		)
		return otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpointURL(cfg.Otlp.Metrics.GrpcEndpoint),
		)
	}
	slog.Info(
		"exporting metrics over http",
		"endpoint", cfg.Otlp.Metrics.HttpEndpoint,
	)
	return otlpmetrichttp.New(
		ctx,
		otlpmetrichttp.WithEndpointURL(cfg.Otlp.Metrics.HttpEndpoint),
	)
}

func newTraceProvider(ctx context.Context, r *resource.Resource, cfg config) (*trace.TracerProvider, error) {
	exporter, err := newTraceExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	), nil
}

func newMetricProvider(ctx context.Context, r *resource.Resource, cfg config) (*metric.MeterProvider, error) {
	exporter, err := newMetricExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter)),
		metric.WithResource(r),
	), nil
}
