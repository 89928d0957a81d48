package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// NewTracer 创建链路追踪器并设置为全局 TracerProvider.
//
// 未启用时返回不导出的 TracerProvider，不修改全局状态.
func NewTracer(cfg *Config) (*sdktrace.TracerProvider, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	if !cfg.Enabled {
		return sdktrace.NewTracerProvider(), nil
	}

	if cfg.ServiceName == "" {
		return nil, ErrEmptyServiceName
	}

	if cfg.OTLP == nil || cfg.OTLP.Endpoint == "" {
		return nil, ErrEmptyEndpoint
	}

	// 移除协议前缀
	endpoint := cfg.OTLP.Endpoint
	if after, ok := strings.CutPrefix(endpoint, "http://"); ok {
		endpoint = after
	}
	if after, ok := strings.CutPrefix(endpoint, "https://"); ok {
		endpoint = after
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	}
	if len(cfg.OTLP.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.OTLP.Headers))
	}

	exp, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateExporter, err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateResource, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(samplingRate(cfg.SamplingRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// MustNewTracer 创建链路追踪器，失败时 panic.
func MustNewTracer(cfg *Config) *sdktrace.TracerProvider {
	tp, err := NewTracer(cfg)
	if err != nil {
		panic(err)
	}
	return tp
}

// samplingRate 越界时按 100% 采样.
func samplingRate(rate float64) float64 {
	if rate <= 0 || rate > 1 {
		return 1.0
	}
	return rate
}
