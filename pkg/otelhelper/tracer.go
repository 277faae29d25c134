// Package otelhelper provides distributed tracing for executions and their actions.
package otelhelper

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys.
const (
	TemplateIDKey  = "flows.template.id"
	ActionIDKey    = "flows.action.id"
	ActionTypeKey  = "flows.action.type"
	StepKey        = "flows.action.step"
	ExecutionIDKey = "flows.execution.id"
	JobIDKey       = "flows.job.id"
	TenantIDKey    = "flows.tenant.id"
)

// Provider hands out the tracer of one service and flushes its spans on Shutdown.
type Provider struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewProvider exports spans over OTLP/HTTP, configured by the standard OTEL_EXPORTER_OTLP_*
// environment variables, and installs the W3C trace context propagator used by the event bus.
func NewProvider(ctx context.Context, serviceName string) (*Provider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Provider{tracer: tp.Tracer(serviceName), shutdown: tp.Shutdown}, nil
}

// NoopProvider records nothing, used when tracing is disabled.
func NoopProvider() *Provider {
	return &Provider{
		tracer:   NoopTracer(),
		shutdown: func(context.Context) error { return nil },
	}
}

// nolint:ireturn
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// NoopTracer returns a tracer that records nothing.
// nolint:ireturn
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("flows")
}

// nolint:ireturn,spancheck
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetError marks span failed with err.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}
