package images

import (
	"context"
	"time"

	"github.com/docker/docker/api/types/image"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for image operations.
type Metrics struct {
	pullDuration metric.Float64Histogram
	pullsTotal   metric.Int64Counter
}

func newImageMetrics(meter metric.Meter, m *manager) (*Metrics, error) {
	pullDuration, err := meter.Float64Histogram(
		"d2ha_images_pull_duration_seconds",
		metric.WithDescription("Time to pull an image"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	pullsTotal, err := meter.Int64Counter(
		"d2ha_images_pulls_total",
		metric.WithDescription("Total number of image pulls"),
	)
	if err != nil {
		return nil, err
	}

	imagesTotal, err := meter.Int64ObservableGauge(
		"d2ha_images_total",
		metric.WithDescription("Number of local images"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			imgs, err := m.engine.ImageList(ctx, image.ListOptions{})
			if err != nil {
				return nil
			}
			o.ObserveInt64(imagesTotal, int64(len(imgs)))
			return nil
		},
		imagesTotal,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		pullDuration: pullDuration,
		pullsTotal:   pullsTotal,
	}, nil
}

func (m *manager) recordPull(ctx context.Context, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.metrics.pullDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	m.metrics.pullsTotal.Add(ctx, 1, attrs)
}
