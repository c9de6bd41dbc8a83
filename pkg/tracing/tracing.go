package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"workfeed/internal/config"
	"workfeed/internal/constants"
)

// Tracer names, one per pipeline stage.
const (
	TracerIngest    = "workfeed/ingest"
	TracerTransport = "workfeed/transport"
	TracerNotify    = "workfeed/notify"
	TracerBroker    = "workfeed/broker"
)

// Span attributes shared by the pipeline stages.
const (
	AttrSource        = attribute.Key("workfeed.source")
	AttrWorkItemID    = attribute.Key("workfeed.work_item_id")
	AttrAccepted      = attribute.Key("workfeed.accepted")
	AttrAcceptedCount = attribute.Key("workfeed.accepted_count")
	AttrBatchSize     = attribute.Key("workfeed.batch_size")
)

// ServiceInfo describes the running daemon on every exported span.
type ServiceInfo struct {
	Name        string
	Version     string
	Environment string
}

type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

func (tp *TracerProvider) Tracer(name string) trace.Tracer {
	return tp.tp.Tracer(name)
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

func Init(cfg config.TracingConfig, info ServiceInfo) (*TracerProvider, error) {
	if !cfg.Enabled {
		tp := sdktrace.NewTracerProvider()
		return &TracerProvider{tp: tp}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(serviceAttributes(cfg, info)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLP.Endpoint),
	}
	if cfg.OTLP.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	sampler := createSampler(cfg.Sampler)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

func serviceAttributes(cfg config.TracingConfig, info ServiceInfo) []attribute.KeyValue {
	name := cfg.ServiceName
	if name == "" {
		name = info.Name
	}
	if name == "" {
		name = constants.ServiceName
	}

	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(name)}
	if info.Version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(info.Version))
	}
	if info.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(info.Environment))
	}
	return attrs
}

func createSampler(cfg config.SamplerConfig) sdktrace.Sampler {
	switch cfg.Type {
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(cfg.Param)
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Param))
	case "always_on":
		fallthrough
	default:
		return sdktrace.AlwaysSample()
	}
}

func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
