// Package telemetry installs the OpenTelemetry tracer provider the ledger
// client reports its spans to.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrEndpointRequired is returned when tracing is enabled without a
// collector endpoint.
var ErrEndpointRequired = errors.New("telemetry: collector endpoint is required when tracing is enabled")

// Config selects where spans go.
type Config struct {
	Enabled        bool
	Endpoint       string // OTLP/gRPC collector, host:port
	Insecure       bool
	ServiceName    string
	ServiceVersion string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Enabled && c.Endpoint == "" {
		return ErrEndpointRequired
	}
	return nil
}

// Telemetry owns the installed tracer provider.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	exporter       sdktrace.SpanExporter
	logger         *zap.Logger
}

// New builds a tracer provider and installs it globally. When tracing is
// disabled the provider records nothing beyond the process; spans are
// still created so span processors added later see them.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...sdktrace.TracerProviderOption) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{logger: logger}

	rsc, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	opts = append([]sdktrace.TracerProviderOption{sdktrace.WithResource(rsc)}, opts...)

	if cfg.Enabled {
		exOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exOpts = append(exOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, exOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry exporter: %w", err)
		}
		t.exporter = exp
		opts = append(opts, sdktrace.WithBatcher(exp))
		logger.Debug("tracing enabled", zap.String("endpoint", cfg.Endpoint))
	}

	t.TracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(t.TracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return t, nil
}

// Tracer returns a named tracer from the installed provider.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.TracerProvider.Tracer(name)
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if err := t.TracerProvider.Shutdown(ctx); err != nil {
		t.logger.Warn("shutdown tracer provider", zap.Error(err))
	}
	if t.exporter != nil {
		if err := t.exporter.Shutdown(ctx); err != nil {
			t.logger.Warn("shutdown span exporter", zap.Error(err))
		}
	}
}
