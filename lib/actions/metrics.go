package actions

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the metrics instruments for container actions.
type Metrics struct {
	actionDuration metric.Float64Histogram
	actionsTotal   metric.Int64Counter
	tracer         trace.Tracer
}

// newActionMetrics creates and registers all action metrics.
func newActionMetrics(meter metric.Meter, tracer trace.Tracer, e *executor) (*Metrics, error) {
	actionDuration, err := meter.Float64Histogram(
		"d2ha_actions_duration_seconds",
		metric.WithDescription("Time to run a container action"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	actionsTotal, err := meter.Int64Counter(
		"d2ha_actions_total",
		metric.WithDescription("Total number of container actions"),
	)
	if err != nil {
		return nil, err
	}

	// Register observable gauge for recreations still running
	inProgress, err := meter.Int64ObservableGauge(
		"d2ha_actions_recreations_in_progress",
		metric.WithDescription("Number of recreations in progress"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			e.opsMu.Lock()
			defer e.opsMu.Unlock()
			var n int64
			for _, op := range e.ops {
				if op.FinishedAt == nil {
					n++
				}
			}
			o.ObserveInt64(inProgress, n)
			return nil
		},
		inProgress,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		actionDuration: actionDuration,
		actionsTotal:   actionsTotal,
		tracer:         tracer,
	}, nil
}

// recordAction records duration and outcome of an action.
func (e *executor) recordAction(ctx context.Context, action string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	)
	e.metrics.actionDuration.Record(ctx, e.now().Sub(start).Seconds(), attrs)
	e.metrics.actionsTotal.Add(ctx, 1, attrs)
}
