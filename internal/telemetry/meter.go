package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/engagement-analysis/advert-sync/internal/logger"
)

const (
	// DefaultServiceName is reported as service.name when none is configured
	DefaultServiceName = "advert-sync"

	// DefaultEndpoint is the OTLP/HTTP collector endpoint used when none is configured
	DefaultEndpoint = "localhost:4318"

	// DefaultMetricsInterval is the default interval for metric collection
	DefaultMetricsInterval = 60 * time.Second
)

// MeterProviderOption is a function that configures the meter provider setup
type MeterProviderOption func(*meterProviderConfig)

type meterProviderConfig struct {
	serviceName    string
	serviceVersion string
	enabled        bool
	endpoint       string
	insecure       bool
	interval       time.Duration
}

// WithMeterServiceName sets the service name for the meter provider
func WithMeterServiceName(name string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		if name != "" {
			cfg.serviceName = name
		}
	}
}

// WithMeterServiceVersion sets the service version for the meter provider
func WithMeterServiceVersion(version string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceVersion = version
	}
}

// WithMetricsEnabled turns metric export on or off
func WithMetricsEnabled(enabled bool) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.enabled = enabled
	}
}

// WithMeterEndpoint sets the endpoint for the meter provider
func WithMeterEndpoint(endpoint string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		if endpoint != "" {
			cfg.endpoint = endpoint
		}
	}
}

// WithMeterInsecure sets the insecure flag for the meter provider
func WithMeterInsecure(insecure bool) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.insecure = insecure
	}
}

// WithMeterInterval overrides how often metrics are pushed to the collector
func WithMeterInterval(interval time.Duration) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		if interval > 0 {
			cfg.interval = interval
		}
	}
}

// NewMeterProvider creates a new OpenTelemetry MeterProvider.
// Returns a no-op provider if metrics are disabled.
// The caller is responsible for calling Shutdown on the returned provider.
func NewMeterProvider(ctx context.Context, opts ...MeterProviderOption) (metric.MeterProvider, error) {
	cfg := &meterProviderConfig{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		endpoint:       DefaultEndpoint,
		interval:       DefaultMetricsInterval,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if !cfg.enabled {
		logger.Debugf("Metrics disabled, using no-op meter provider")
		return noop.NewMeterProvider(), nil
	}

	// resource.New avoids schema URL conflicts with resource.Default()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.serviceName),
			semconv.ServiceVersion(cfg.serviceVersion),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createOTLPMetricsExporter(ctx, cfg.endpoint, cfg.insecure)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(cfg.interval),
			),
		),
	)

	otel.SetMeterProvider(mp)

	logger.Infof("Metrics initialized (endpoint=%s, insecure=%t)", cfg.endpoint, cfg.insecure)

	return mp, nil
}

// Shutdown flushes and stops the provider if it supports it. No-op providers
// are ignored.
func Shutdown(ctx context.Context, provider metric.MeterProvider) error {
	s, ok := provider.(interface{ Shutdown(context.Context) error })
	if !ok {
		return nil
	}
	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down meter provider: %w", err)
	}
	return nil
}

func createOTLPMetricsExporter(ctx context.Context, endpoint string, insecure bool) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(endpoint),
	}

	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	return exporter, nil
}
