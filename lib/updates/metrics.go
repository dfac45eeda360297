package updates

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for update checks.
type Metrics struct {
	resolveDuration metric.Float64Histogram
	lookupsTotal    metric.Int64Counter
}

// newUpdateMetrics creates and registers all update metrics.
func newUpdateMetrics(meter metric.Meter, m *manager) (*Metrics, error) {
	resolveDuration, err := meter.Float64Histogram(
		"d2ha_updates_resolve_duration_seconds",
		metric.WithDescription("Time to resolve an upstream image digest"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	lookupsTotal, err := meter.Int64Counter(
		"d2ha_updates_remote_lookups_total",
		metric.WithDescription("Total number of remote lookups by result"),
	)
	if err != nil {
		return nil, err
	}

	containersByState, err := meter.Int64ObservableGauge(
		"d2ha_updates_containers",
		metric.WithDescription("Containers by update state at the last collection"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			m.countsMu.RLock()
			defer m.countsMu.RUnlock()
			for state, count := range m.lastCounts {
				o.ObserveInt64(containersByState, count,
					metric.WithAttributes(attribute.String("state", string(state))))
			}
			return nil
		},
		containersByState,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		resolveDuration: resolveDuration,
		lookupsTotal:    lookupsTotal,
	}, nil
}

func (m *manager) recordLookup(ctx context.Context, result string) {
	if m.metrics == nil {
		return
	}
	m.metrics.lookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *manager) recordResolve(ctx context.Context, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.resolveDuration.Record(ctx, m.now().Sub(start).Seconds())
}
