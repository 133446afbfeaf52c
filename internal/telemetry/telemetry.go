// Package telemetry installs the global OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Controller owns the installed provider.
type Controller struct {
	provider *sdktrace.TracerProvider
}

// Init installs a tracer provider for service. With an empty endpoint spans
// are sampled but not exported; otherwise they are batched to the Jaeger
// collector at endpoint (e.g. http://jaeger:14268/api/traces).
func Init(service, endpoint string) (*Controller, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	}
	if endpoint != "" {
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
		if err != nil {
			return nil, fmt.Errorf("create jaeger exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return &Controller{provider: tp}, nil
}

// Provider returns the installed provider.
func (c *Controller) Provider() *sdktrace.TracerProvider { return c.provider }

// Shutdown flushes pending spans.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.provider.Shutdown(ctx)
}
