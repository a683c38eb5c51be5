// Package observability wires the process-wide OpenTelemetry tracer and
// meter providers and the RED (Rate, Errors, Duration) instruments derived
// from them. clasperd has no OTLP collector endpoint configured, so this
// provider registers in-process SDK providers without a network exporter:
// spans and metrics are still recorded and can be read back by anything
// holding the Provider, but nothing ships them off-box.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the observability provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRate     float64 // 0.0 to 1.0, default 1.0 (sample all)
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "clasperd",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// Provider owns the process-wide tracer and meter and the RED (Rate,
// Errors, Duration) instruments derived from them.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	decisionCounter  metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter
}

// New creates and registers the global tracer and meter providers.
func New(config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", config.ServiceName),
			attribute.String("service.version", config.ServiceVersion),
			attribute.String("deployment.environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	p := &Provider{config: config}

	var sampler sdktrace.Sampler
	switch {
	case config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)

	p.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = otel.Tracer(config.ServiceName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(config.ServiceName, metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("observability: init RED metrics: %w", err)
	}

	return p, nil
}

func (p *Provider) initREDMetrics() error {
	var err error
	if p.decisionCounter, err = p.meter.Int64Counter("clasper.decisions.total",
		metric.WithDescription("Total number of execution decisions evaluated"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return err
	}
	if p.errorCounter, err = p.meter.Int64Counter("clasper.errors.total",
		metric.WithDescription("Total number of errors"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	if p.durationHist, err = p.meter.Float64Histogram("clasper.decision.duration",
		metric.WithDescription("Decision evaluation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	); err != nil {
		return err
	}
	if p.activeOperations, err = p.meter.Int64UpDownCounter("clasper.operations.active",
		metric.WithDescription("Number of currently active operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and releases the tracer and meter providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		return p.meterProvider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the process tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// RecordDecision increments the decision counter and records its duration.
func (p *Provider) RecordDecision(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if p.decisionCounter != nil {
		p.decisionCounter.Add(ctx, 1, attrs)
	}
	if p.durationHist != nil {
		p.durationHist.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordError increments the error counter for the given component.
func (p *Provider) RecordError(ctx context.Context, component string) {
	if p.errorCounter != nil {
		p.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
	}
}

// TrackOperation marks an operation active for the duration of the
// returned completion function.
func (p *Provider) TrackOperation(ctx context.Context) func() {
	if p.activeOperations == nil {
		return func() {}
	}
	p.activeOperations.Add(ctx, 1)
	return func() { p.activeOperations.Add(ctx, -1) }
}
