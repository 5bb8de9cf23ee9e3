// Package telemetry wires the OpenTelemetry tracer provider. Loading the
// module turns on tracing for every instrumented component; leaving it out
// keeps the default no-op tracer.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"gopkg.in/yaml.v3"

	"github.com/smedrec/smart-logs/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the telemetry settings.
type Config struct {
	// Endpoint is the OTLP/HTTP collector endpoint (host:port). Empty
	// keeps the exporter on its OTEL_EXPORTER_OTLP_* environment defaults.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the reported service name.
	ServiceName string `yaml:"service_name"`
}

// Module owns the tracer provider lifecycle.
type Module struct {
	config   Config
	provider *sdktrace.TracerProvider
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "telemetry.otel",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner. The provider is installed globally
// so components resolve their tracer through otel.Tracer.
func (m *Module) Provision(ctx *core.AppContext) error {
	var opts []otlptracehttp.Option
	if m.config.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(m.config.Endpoint))
	}
	if m.config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("telemetry: creating OTLP exporter: %w", err)
	}

	serviceName := m.config.ServiceName
	if serviceName == "" {
		serviceName = "smart-logs"
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)
	otel.SetTracerProvider(m.provider)

	ctx.Logger.Info("tracing enabled", "endpoint", m.config.Endpoint)
	return nil
}

// Stop implements core.Stopper: flush and shut down the provider.
func (m *Module) Stop(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.provider.Shutdown(flushCtx)
}
