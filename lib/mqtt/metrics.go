package mqtt

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for the broker connection.
type Metrics struct {
	publishesTotal metric.Int64Counter
	receivedTotal  metric.Int64Counter
	reconnects     metric.Int64Counter
}

// newMQTTMetrics creates and registers all broker metrics.
func newMQTTMetrics(meter metric.Meter, c *Client) (*Metrics, error) {
	publishesTotal, err := meter.Int64Counter(
		"d2ha_mqtt_publishes_total",
		metric.WithDescription("Total number of MQTT publishes by status"),
	)
	if err != nil {
		return nil, err
	}

	receivedTotal, err := meter.Int64Counter(
		"d2ha_mqtt_messages_received_total",
		metric.WithDescription("Total number of inbound MQTT messages"),
	)
	if err != nil {
		return nil, err
	}

	reconnects, err := meter.Int64Counter(
		"d2ha_mqtt_reconnects_total",
		metric.WithDescription("Total number of reconnect attempts"),
	)
	if err != nil {
		return nil, err
	}

	connected, err := meter.Int64ObservableGauge(
		"d2ha_mqtt_connected",
		metric.WithDescription("1 when connected to the broker"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			var v int64
			if c.IsConnected() {
				v = 1
			}
			o.ObserveInt64(connected, v)
			return nil
		},
		connected,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		publishesTotal: publishesTotal,
		receivedTotal:  receivedTotal,
		reconnects:     reconnects,
	}, nil
}

func (c *Client) recordPublish(ctx context.Context, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	c.metrics.publishesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (c *Client) recordReceived(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	c.metrics.receivedTotal.Add(ctx, 1)
}

func (c *Client) recordReconnect() {
	if c.metrics == nil {
		return
	}
	c.metrics.reconnects.Add(context.Background(), 1)
}
