package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServiceMetrics holds process-level metrics of the bridge.
type ServiceMetrics struct {
	Info   metric.Int64ObservableGauge
	Uptime metric.Float64ObservableGauge
}

// NewServiceMetrics registers d2ha_info, labelled with the version, and
// d2ha_uptime_seconds measured from started.
func NewServiceMetrics(meter metric.Meter, version string, started time.Time) (*ServiceMetrics, error) {
	info, err := meter.Int64ObservableGauge(
		"d2ha_info",
		metric.WithDescription("Build information of the running bridge"),
	)
	if err != nil {
		return nil, err
	}

	uptime, err := meter.Float64ObservableGauge(
		"d2ha_uptime_seconds",
		metric.WithDescription("Seconds since the bridge started"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(info, 1, metric.WithAttributes(attribute.String("version", version)))
			o.ObserveFloat64(uptime, time.Since(started).Seconds())
			return nil
		},
		info, uptime,
	)
	if err != nil {
		return nil, err
	}

	return &ServiceMetrics{Info: info, Uptime: uptime}, nil
}
