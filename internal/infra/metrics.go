package infra

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
)

const meterName = "tabmon"

// OTelConfig holds the OTLP collector settings.
type OTelConfig struct {
	Enabled  bool
	Endpoint string
	Insecure bool
}

// OTelRecorder implements domain.MetricsRecorder with OpenTelemetry metrics.
type OTelRecorder struct {
	provider       *sdkmetric.MeterProvider
	sessionsTotal  metric.Int64Counter
	activeMs       metric.Int64Counter
	backgroundMs   metric.Int64Counter
	interactionMs  metric.Int64Counter
	eventsTotal    metric.Int64Counter
	openDurationMs metric.Int64Histogram
}

// NewOTelRecorder exports tracking metrics to an OTLP gRPC collector.
func NewOTelRecorder(ctx context.Context, cfg OTelConfig, version string) (*OTelRecorder, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, errors.New("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlpmetricgrpc.WithInsecure(),
		)
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}
	return newOTelRecorder(ctx, sdkmetric.NewPeriodicReader(exp), version)
}

// newOTelRecorder builds the instruments on top of any reader.
func newOTelRecorder(ctx context.Context, reader sdkmetric.Reader, version string) (*OTelRecorder, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(meterName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(meterName)

	r := &OTelRecorder{provider: provider}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&r.sessionsTotal, "tabmon_sessions_total", "Finalized tab sessions", "{session}"},
		{&r.activeMs, "tabmon_active_time_ms_total", "Foreground time across sessions", "ms"},
		{&r.backgroundMs, "tabmon_background_time_ms_total", "Background time across sessions", "ms"},
		{&r.interactionMs, "tabmon_interaction_time_ms_total", "Interaction time across sessions", "ms"},
		{&r.eventsTotal, "tabmon_browser_events_total", "Browser events processed", "{event}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	r.openDurationMs, err = meter.Int64Histogram(
		"tabmon_session_open_time_ms",
		metric.WithDescription("Open time per finalized session"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating open time histogram: %w", err)
	}
	return r, nil
}

// SessionFinalized records one persisted session.
func (r *OTelRecorder) SessionFinalized(ctx context.Context, rec domain.SessionRecord) {
	opt := metric.WithAttributes(
		attribute.String("domain", rec.Domain),
		attribute.String("reason", string(rec.Reason)),
	)
	r.sessionsTotal.Add(ctx, 1, opt)
	r.activeMs.Add(ctx, rec.ActiveTime, opt)
	r.backgroundMs.Add(ctx, rec.BackgroundTime, opt)
	r.interactionMs.Add(ctx, rec.InteractionTime, opt)
	r.openDurationMs.Record(ctx, rec.OpenTime, opt)
}

// EventProcessed records one dispatched browser event.
func (r *OTelRecorder) EventProcessed(ctx context.Context, eventType domain.EventType) {
	r.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(eventType))))
}

// Close shuts down the provider and flushes pending metrics.
func (r *OTelRecorder) Close(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) SessionFinalized(context.Context, domain.SessionRecord) {}
func (NoopRecorder) EventProcessed(context.Context, domain.EventType)       {}
func (NoopRecorder) Close(context.Context) error                           { return nil }

// NewMetricsRecorder returns an OTLP recorder when enabled, otherwise a no-op.
func NewMetricsRecorder(ctx context.Context, cfg OTelConfig, version string) (domain.MetricsRecorder, error) {
	if !cfg.Enabled {
		return NoopRecorder{}, nil
	}
	rec, err := NewOTelRecorder(ctx, cfg, version)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Ensure recorders implement domain.MetricsRecorder.
var (
	_ domain.MetricsRecorder = (*OTelRecorder)(nil)
	_ domain.MetricsRecorder = NoopRecorder{}
)
