// Package sprinttrace wires OpenTelemetry tracing around the
// orchestrator's cycle and phase boundaries, and bridges an OTel meter
// provider onto the process's existing Prometheus registry so both export
// through one /metrics endpoint.
package sprinttrace

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls whether tracing exports anywhere and where.
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

// NewTracerProvider returns a real SDK tracer provider. When cfg.Enabled is
// false it still returns a functioning *sdktrace.TracerProvider, just with a
// sampler that never records — callers never need a type switch on whether
// tracing is on.
func NewTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())), nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	), nil
}

// NewMeterProvider bridges OTel instruments onto reg, the same Prometheus
// registerer sprintmetrics uses, so a single /metrics scrape sees both.
func NewMeterProvider(reg *prometheus.Registry) (*sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("otel prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), nil
}

// Tracer emits the orchestrator's two span kinds: one per cycle, one per
// phase within a cycle.
type Tracer struct {
	tracer oteltrace.Tracer
}

// NewTracer builds a Tracer from any TracerProvider, including the
// never-sampling one NewTracerProvider(ctx, Config{Enabled:false}) returns.
func NewTracer(provider oteltrace.TracerProvider) *Tracer {
	return &Tracer{tracer: provider.Tracer("sprintrunner/orchestrator")}
}

// Noop returns a Tracer that records nothing, for callers with no configured
// provider.
func Noop() *Tracer {
	return NewTracer(noop.NewTracerProvider())
}

// StartCycle opens a span covering one full orchestration cycle.
func (t *Tracer) StartCycle(ctx context.Context, cycleNumber int) (context.Context, oteltrace.Span) {
	if t == nil {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "cycle", oteltrace.WithAttributes(
		attribute.Int("sprint.cycle_number", cycleNumber),
	))
}

// StartPhase opens a child span for one phase executor within a cycle.
func (t *Tracer) StartPhase(ctx context.Context, phase string, storyKeys []string) (context.Context, oteltrace.Span) {
	if t == nil {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, phase, oteltrace.WithAttributes(
		attribute.String("sprint.phase", phase),
		attribute.StringSlice("sprint.story_keys", storyKeys),
	))
}

// Instruments bundles the OTel metric instruments the ambient stack
// exercises outside the Prometheus-native counters in sprintmetrics.
type Instruments struct {
	ContextRefreshes metric.Int64Counter
}

// NewInstruments creates every instrument against provider's default meter.
func NewInstruments(provider metric.MeterProvider) (*Instruments, error) {
	meter := provider.Meter("sprintrunner/orchestrator")
	counter, err := meter.Int64Counter(
		"sprint.context.refresh_total",
		metric.WithDescription("Project context refresh attempts, successful or not."),
	)
	if err != nil {
		return nil, fmt.Errorf("context refresh counter: %w", err)
	}
	return &Instruments{ContextRefreshes: counter}, nil
}
