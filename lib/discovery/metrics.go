package discovery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the metrics instruments for discovery publishing.
type Metrics struct {
	passDuration metric.Float64Histogram
	staleCleared metric.Int64Counter
	failedTotal  metric.Int64Counter
	commandTotal metric.Int64Counter
	tracer       trace.Tracer
}

// newDiscoveryMetrics creates and registers all discovery metrics.
func newDiscoveryMetrics(meter metric.Meter, tracer trace.Tracer, m *manager) (*Metrics, error) {
	passDuration, err := meter.Float64Histogram(
		"d2ha_discovery_pass_duration_seconds",
		metric.WithDescription("Time to publish discovery and state for the fleet"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	staleCleared, err := meter.Int64Counter(
		"d2ha_discovery_stale_cleared_total",
		metric.WithDescription("Total number of containers whose entities were retracted"),
	)
	if err != nil {
		return nil, err
	}

	failedTotal, err := meter.Int64Counter(
		"d2ha_discovery_entity_failures_total",
		metric.WithDescription("Total number of containers whose entities failed to publish"),
	)
	if err != nil {
		return nil, err
	}

	commandTotal, err := meter.Int64Counter(
		"d2ha_discovery_commands_total",
		metric.WithDescription("Total number of inbound commands by action and status"),
	)
	if err != nil {
		return nil, err
	}

	entities, err := meter.Int64ObservableGauge(
		"d2ha_discovery_containers",
		metric.WithDescription("Containers published in the last pass"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			m.slugMu.RLock()
			defer m.slugMu.RUnlock()
			o.ObserveInt64(entities, int64(len(m.slugs)))
			return nil
		},
		entities,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		passDuration: passDuration,
		staleCleared: staleCleared,
		failedTotal:  failedTotal,
		commandTotal: commandTotal,
		tracer:       tracer,
	}, nil
}

func (m *manager) recordPass(ctx context.Context, start time.Time, stale, failed int) {
	if m.metrics == nil {
		return
	}
	m.metrics.passDuration.Record(ctx, m.now().Sub(start).Seconds())
	if stale > 0 {
		m.metrics.staleCleared.Add(ctx, int64(stale))
	}
	if failed > 0 {
		m.metrics.failedTotal.Add(ctx, int64(failed))
	}
}

func (m *manager) recordCommand(ctx context.Context, action string, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.metrics.commandTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		))
}
