// Package tracing 进程级的 OpenTelemetry 初始化，span 通过 Jaeger collector 导出
package tracing

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"loyaltyhub/internal/pkg/logger"
)

type Options struct {
	ServiceName string
	Environment string
	// Endpoint 为空时只设置传播器，span 不导出（CLI、本地测试）
	Endpoint    string
	SampleRatio float64
}

// Provider 只暴露关停能力
type Provider interface {
	Shutdown(ctx context.Context) error
}

type noopProvider struct{}

func (noopProvider) Shutdown(context.Context) error { return nil }

// Init 注册全局 TracerProvider 和 W3C 传播器
func Init(opts Options) (Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if opts.Endpoint == "" {
		return noopProvider{}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(opts.Endpoint)))
	if err != nil {
		return nil, errors.Wrap(err, "create jaeger exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(opts.SampleRatio)),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(opts.ServiceName),
			attribute.String("deployment.environment", opts.Environment),
		)),
	)
	otel.SetTracerProvider(tp)

	logger.L().Info().Str("service", opts.ServiceName).Str("endpoint", opts.Endpoint).
		Float64("sample_ratio", opts.SampleRatio).Msg("tracing initialized")
	return tp, nil
}

// sampler 比例在 (0,1) 之间时根 span 按比例采样，子 span 跟随父 span
func sampler(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.AlwaysSample()
}
