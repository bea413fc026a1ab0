// Package telemetry exports lifecycle metrics in Prometheus format through
// OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"markestedt/voicekey/events"
	"markestedt/voicekey/inject"
)

const serviceName = "voicekey"

// Telemetry owns the meter provider and its scrape handler.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
	Metrics  *Metrics
}

// Setup creates a meter provider backed by a private Prometheus registry.
func Setup(ctx context.Context, version string) (*Telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	m, err := NewMetrics(provider.Meter(serviceName))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	slog.Info("Telemetry initialized", "exporter", "prometheus")
	return &Telemetry{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Metrics:  m,
	}, nil
}

// Handler serves the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return t.handler
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// Metrics holds the instruments fed from lifecycle events.
type Metrics struct {
	sessions          metric.Int64Counter
	sessionErrors     metric.Int64Counter
	signals           metric.Int64Counter
	injections        metric.Int64Counter
	strategyAttempts  metric.Int64Counter
	injectionDuration metric.Float64Histogram
	confidence        metric.Float64Histogram
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.sessions, "voicekey.sessions", "Capture sessions started"},
		{&m.sessionErrors, "voicekey.session.errors", "Sessions ended by an error or cancellation"},
		{&m.signals, "voicekey.trigger.signals", "Logical trigger signals by kind"},
		{&m.injections, "voicekey.injections", "Terminal injection outcomes by status"},
		{&m.strategyAttempts, "voicekey.injection.strategy.attempts", "Attempts per injection strategy and status"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	m.injectionDuration, err = meter.Float64Histogram("voicekey.injection.duration",
		metric.WithDescription("Time from injection start to terminal outcome"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating voicekey.injection.duration histogram: %w", err)
	}
	m.confidence, err = meter.Float64Histogram("voicekey.transcription.confidence",
		metric.WithDescription("Transcription confidence"),
		metric.WithExplicitBucketBoundaries(0.2, 0.4, 0.6, 0.8, 0.9, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating voicekey.transcription.confidence histogram: %w", err)
	}
	return &m, nil
}

// Observe records one lifecycle event.
func (m *Metrics) Observe(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.ActivationStarted:
		m.sessions.Add(ctx, 1)
	case events.ActivationError, events.ActivationCancelled:
		m.sessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind))))
	case events.TriggerSignal:
		m.signals.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", ev.Signal)))
	case events.ActivationResult:
		m.confidence.Record(ctx, ev.Confidence)
	case events.InjectionOutcome:
		if ev.Injection != nil {
			m.observeOutcome(ctx, *ev.Injection)
		}
	}
}

func (m *Metrics) observeOutcome(ctx context.Context, o inject.Outcome) {
	m.injections.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(o.Status))))
	m.injectionDuration.Record(ctx, o.Duration.Seconds(), metric.WithAttributes(attribute.String("status", string(o.Status))))
	for _, r := range o.Tried {
		m.strategyAttempts.Add(ctx, int64(r.Attempts), metric.WithAttributes(
			attribute.String("strategy", r.Strategy),
			attribute.String("status", string(r.Status)),
		))
	}
}

// Run observes events from ch until it closes or ctx is done.
func (m *Metrics) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ctx, ev)
		}
	}
}
