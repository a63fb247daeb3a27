package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/promptdrive/promptdrive-go/promptdrive"
	"github.com/promptdrive/promptdrive-go/ratelimit"
)

// MeterProvider global instance
var globalMeterProvider *sdkmetric.MeterProvider

// InitMetrics initializes OpenTelemetry metrics with Prometheus export.
func InitMetrics(serviceName string) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	globalMeterProvider = provider
	return provider, nil
}

// GetMeter returns a meter from the current global meter provider.
func GetMeter(name string) metric.Meter {
	// Always get meter from current global provider
	// This allows tests to inject their own provider
	return otel.Meter(name)
}

// ShutdownMetrics gracefully shuts down the meter provider.
func ShutdownMetrics(ctx context.Context) error {
	if globalMeterProvider != nil {
		return globalMeterProvider.Shutdown(ctx)
	}
	return nil
}

// RequestMetrics exports orchestration telemetry as OpenTelemetry
// instruments. It mirrors what the stats manager accumulates, for
// scrape-based dashboards rather than end-of-run summaries.
type RequestMetrics struct {
	meter metric.Meter

	requestCounter   metric.Int64Counter
	retryCounter     metric.Int64Counter
	tokenCounter     metric.Int64Counter
	costCounter      metric.Float64Counter
	rateLimitCounter metric.Int64Counter
	pauseCounter     metric.Int64Counter
	tpmGauge         metric.Int64Gauge
	concurrencyGauge metric.Int64Gauge
}

// NewRequestMetrics creates the instrument set on the given meter name.
func NewRequestMetrics(meterName string) (*RequestMetrics, error) {
	meter := GetMeter(meterName)

	requestCounter, err := meter.Int64Counter(
		"promptdrive.requests",
		metric.WithDescription("Total number of completed requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	retryCounter, err := meter.Int64Counter(
		"promptdrive.retries",
		metric.WithDescription("Total number of retried attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry counter: %w", err)
	}

	tokenCounter, err := meter.Int64Counter(
		"promptdrive.tokens",
		metric.WithDescription("Total tokens consumed, by kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}

	costCounter, err := meter.Float64Counter(
		"promptdrive.cost",
		metric.WithDescription("Accumulated request cost"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost counter: %w", err)
	}

	rateLimitCounter, err := meter.Int64Counter(
		"promptdrive.rate_limit_hits",
		metric.WithDescription("Provider rate-limit responses observed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}

	pauseCounter, err := meter.Int64Counter(
		"promptdrive.proactive_pauses",
		metric.WithDescription("Requests paused at the concurrency gate"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pause counter: %w", err)
	}

	tpmGauge, err := meter.Int64Gauge(
		"promptdrive.tokens_per_minute",
		metric.WithDescription("Tokens observed in the sliding window"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tpm gauge: %w", err)
	}

	concurrencyGauge, err := meter.Int64Gauge(
		"promptdrive.concurrency_limit",
		metric.WithDescription("Current adaptive concurrency limit"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create concurrency gauge: %w", err)
	}

	return &RequestMetrics{
		meter:            meter,
		requestCounter:   requestCounter,
		retryCounter:     retryCounter,
		tokenCounter:     tokenCounter,
		costCounter:      costCounter,
		rateLimitCounter: rateLimitCounter,
		pauseCounter:     pauseCounter,
		tpmGauge:         tpmGauge,
		concurrencyGauge: concurrencyGauge,
	}, nil
}

// OnOutcome records one completed request.
func (m *RequestMetrics) OnOutcome(ctx context.Context, model string, outcome *promptdrive.Outcome) {
	status := "success"
	if !outcome.Success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)

	m.requestCounter.Add(ctx, 1, attrs)
	if outcome.Attempts > 1 {
		m.retryCounter.Add(ctx, int64(outcome.Attempts-1), attrs)
	}
	if outcome.Success {
		m.tokenCounter.Add(ctx, int64(outcome.InputTokens), metric.WithAttributes(
			attribute.String("model", model), attribute.String("kind", "input")))
		m.tokenCounter.Add(ctx, int64(outcome.OutputTokens), metric.WithAttributes(
			attribute.String("model", model), attribute.String("kind", "output")))
		if outcome.CachedTokens > 0 {
			m.tokenCounter.Add(ctx, int64(outcome.CachedTokens), metric.WithAttributes(
				attribute.String("model", model), attribute.String("kind", "cached")))
		}
		m.costCounter.Add(ctx, outcome.Cost, metric.WithAttributes(
			attribute.String("model", model)))
	}
}

// OnLimiterEvent records a rate-limiter telemetry event. The signature
// matches ratelimit.Config.OnEvent.
func (m *RequestMetrics) OnLimiterEvent(ev ratelimit.Event) {
	ctx := context.Background()
	switch ev.Type {
	case ratelimit.EventProactivePause:
		m.pauseCounter.Add(ctx, 1)
	case ratelimit.EventAPIRateLimit:
		m.rateLimitCounter.Add(ctx, 1)
	case ratelimit.EventTokenUsage:
		m.tpmGauge.Record(ctx, int64(ev.CurrentTPM))
	case ratelimit.EventConcurrencyUpdate:
		m.concurrencyGauge.Record(ctx, int64(ev.NewConcurrency))
	}
}
