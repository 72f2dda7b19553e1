// Package telemetry wires OpenTelemetry tracing into the control plane.
// Tracing is opt-in: unless RUNCTL_OTEL_ENABLED is set, Init leaves otel's
// default no-op global tracer provider in place, so the rest of the code can
// always call otel.Tracer(...) without checking whether tracing is active.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlayerdevops/runctl/internal/config"
)

// Config controls whether and how tracing is initialized.
type Config struct {
	Enabled     bool
	ServiceName string
	SampleRatio float64
}

// LoadConfig loads telemetry configuration from the environment.
func LoadConfig() Config {
	return Config{
		Enabled:     config.GetEnvBool("RUNCTL_OTEL_ENABLED", false),
		ServiceName: config.GetEnvStr("RUNCTL_OTEL_SERVICE_NAME", "runctl"),
		SampleRatio: 0.1,
	}
}

// Init installs a global tracer provider and returns a shutdown func that
// must be called before process exit. When tracing is disabled it installs
// nothing (the global provider stays otel's no-op default) and returns a
// no-op shutdown func.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("service.component", "run-control-plane"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: build stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	logger.Info("tracing initialized", slog.String("service", cfg.ServiceName), slog.Float64("sample_ratio", cfg.SampleRatio))

	_, span := otel.Tracer(cfg.ServiceName).Start(ctx, "telemetry.init", trace.WithAttributes(
		attribute.Float64("sample_ratio", cfg.SampleRatio),
	))
	span.End()

	return tp.Shutdown, nil
}
