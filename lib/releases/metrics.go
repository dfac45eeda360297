package releases

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for release lookups.
type Metrics struct {
	lookupsTotal metric.Int64Counter
}

func newReleaseMetrics(meter metric.Meter) (*Metrics, error) {
	lookupsTotal, err := meter.Int64Counter(
		"d2ha_releases_lookups_total",
		metric.WithDescription("Total number of release note lookups by result"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{lookupsTotal: lookupsTotal}, nil
}

func (c *client) recordLookup(ctx context.Context, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.lookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
