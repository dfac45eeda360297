package fleet

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for fleet refreshes.
type Metrics struct {
	refreshDuration metric.Float64Histogram
	refreshesTotal  metric.Int64Counter
}

// newFleetMetrics creates and registers all fleet metrics.
func newFleetMetrics(meter metric.Meter, m *manager) (*Metrics, error) {
	refreshDuration, err := meter.Float64Histogram(
		"d2ha_fleet_refresh_duration_seconds",
		metric.WithDescription("Time to snapshot the container fleet"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	refreshesTotal, err := meter.Int64Counter(
		"d2ha_fleet_refreshes_total",
		metric.WithDescription("Total number of fleet refreshes"),
	)
	if err != nil {
		return nil, err
	}

	// Register observable gauges read from the cached snapshot
	containersTotal, err := meter.Int64ObservableGauge(
		"d2ha_fleet_containers_total",
		metric.WithDescription("Number of containers by status"),
	)
	if err != nil {
		return nil, err
	}

	cacheAge, err := meter.Float64ObservableGauge(
		"d2ha_fleet_cache_age_seconds",
		metric.WithDescription("Age of the cached fleet snapshot"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			if m.refreshedAt.IsZero() {
				return nil
			}
			counts := make(map[string]int64)
			for _, s := range m.cache {
				for _, c := range s.Containers {
					counts[c.Status]++
				}
			}
			for status, count := range counts {
				o.ObserveInt64(containersTotal, count,
					metric.WithAttributes(attribute.String("status", status)))
			}
			o.ObserveFloat64(cacheAge, m.now().Sub(m.refreshedAt).Seconds())
			return nil
		},
		containersTotal,
		cacheAge,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		refreshDuration: refreshDuration,
		refreshesTotal:  refreshesTotal,
	}, nil
}

// recordRefresh records refresh duration and outcome.
func (m *manager) recordRefresh(ctx context.Context, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.metrics.refreshDuration.Record(ctx, m.now().Sub(start).Seconds(), attrs)
	m.metrics.refreshesTotal.Add(ctx, 1, attrs)
}
