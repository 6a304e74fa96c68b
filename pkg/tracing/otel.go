// Copyright 2026 fanjia1024
// OpenTelemetry integration for step/reset tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "firmnav"

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 初始化 OpenTelemetry tracer
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartStepSpan 开始单步 span（command 为发出的 opcode）
func StartStepSpan(ctx context.Context, episode int, step int, opcode int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "env.step",
		trace.WithAttributes(
			attribute.Int("episode", episode),
			attribute.Int("step", step),
			attribute.Int("command.opcode", opcode),
		),
	)
}

// StartResetSpan 开始 episode reset span
func StartResetSpan(ctx context.Context, episode int, epoch int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "env.reset",
		trace.WithAttributes(
			attribute.Int("episode", episode),
			attribute.Int("epoch", epoch),
		),
	)
}

// StartSessionSpan 开始会话操作 span（spawn/connect/terminate）
func StartSessionSpan(ctx context.Context, op string, endpoint string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session."+op,
		trace.WithAttributes(
			attribute.String("session.endpoint", endpoint),
		),
	)
}

// RecordError 在 span 上记录错误（err 为 nil 时忽略）
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
