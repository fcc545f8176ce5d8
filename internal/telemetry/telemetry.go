// Package telemetry sets up OpenTelemetry metrics exported in the Prometheus format.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config controls the telemetry providers.
type Config struct {
	ServiceName string
	Enabled     bool

	// Registry receives the exported metrics. Nil means the prometheus default registry.
	Registry *prometheus.Registry
}

// Providers holds the initialized OpenTelemetry providers.
type Providers struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider

	// Meter is always usable; it is a no-op meter when telemetry is disabled.
	Meter metric.Meter
}

// Init initializes the OpenTelemetry providers based on the config.
// When telemetry is disabled, the returned providers are no-ops.
func Init(ctx context.Context, config *Config) (*Providers, error) {
	p := &Providers{config: config}
	if !config.Enabled {
		p.Meter = noop.NewMeterProvider().Meter(config.ServiceName)
		return p, nil
	}

	var opts []otelprom.Option
	if config.Registry != nil {
		opts = append(opts, otelprom.WithRegisterer(config.Registry))
	}
	exporter, err := otelprom.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", config.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otel resource: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.Meter = p.meterProvider.Meter(config.ServiceName)
	return p, nil
}

// IsEnabled returns true if telemetry is enabled.
func (p *Providers) IsEnabled() bool {
	return p != nil && p.config.Enabled
}

// ServiceName returns the service name the providers were initialized with.
func (p *Providers) ServiceName() string {
	return p.config.ServiceName
}

// MetricsHandler serves the exported metrics.
func (p *Providers) MetricsHandler() http.Handler {
	if p.config.Registry != nil {
		return promhttp.HandlerFor(p.config.Registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Shutdown flushes and stops the providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
