package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OTelConfig controls OpenTelemetry initialization
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	TraceStdout    bool
}

// DefaultOTelConfig returns the standard configuration for this service
func DefaultOTelConfig() OTelConfig {
	return OTelConfig{
		ServiceName:    "trialguard",
		ServiceVersion: "1.0.0",
		TraceStdout:    os.Getenv("TRIALGUARD_TRACE_STDOUT") == "true",
	}
}

// OTelProviders bundles the configured OpenTelemetry providers plus the
// Prometheus handler for the /metrics endpoint.
type OTelProviders struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	Meter          metric.Meter
	PrometheusHTTP http.Handler
}

// InitializeOTel sets up the metric and trace providers. Metrics are
// exported through a dedicated Prometheus registry; tracing defaults to a
// no-op unless stdout export is enabled.
func InitializeOTel(cfg OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	providers := &OTelProviders{
		MeterProvider:  meterProvider,
		Meter:          meterProvider.Meter("trialguard"),
		PrometheusHTTP: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	if cfg.TraceStdout {
		traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExporter),
		)
		otel.SetTracerProvider(tracerProvider)
		providers.TracerProvider = tracerProvider
		logger.Info("stdout trace export enabled")
	}

	logger.Info("OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion))

	return providers, nil
}

// Shutdown flushes and stops all providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Metrics holds the business counters recorded by the guard, registry and
// scheduler. All counters are safe for concurrent use.
type Metrics struct {
	GuardDecisions  metric.Int64Counter
	BlocksAppended  metric.Int64Counter
	SuspicionEvents metric.Int64Counter
	TrialsStarted   metric.Int64Counter
	TrialsExpired   metric.Int64Counter
	RemindersSent   metric.Int64Counter
}

// NewMetrics creates the business metric instruments on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.GuardDecisions, err = meter.Int64Counter("trialguard_guard_decisions_total",
		metric.WithDescription("Guard decisions by outcome")); err != nil {
		return nil, err
	}
	if m.BlocksAppended, err = meter.Int64Counter("trialguard_blocklist_appends_total",
		metric.WithDescription("Blocklist entries appended")); err != nil {
		return nil, err
	}
	if m.SuspicionEvents, err = meter.Int64Counter("trialguard_suspicion_events_total",
		metric.WithDescription("Suspicion events appended by type")); err != nil {
		return nil, err
	}
	if m.TrialsStarted, err = meter.Int64Counter("trialguard_trials_started_total",
		metric.WithDescription("Trials successfully started")); err != nil {
		return nil, err
	}
	if m.TrialsExpired, err = meter.Int64Counter("trialguard_trials_expired_total",
		metric.WithDescription("Trials transitioned to expired by the scheduler")); err != nil {
		return nil, err
	}
	if m.RemindersSent, err = meter.Int64Counter("trialguard_reminders_sent_total",
		metric.WithDescription("Expiry reminder candidates emitted")); err != nil {
		return nil, err
	}
	return m, nil
}
