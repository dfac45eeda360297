// Package mqtt connects to the MQTT broker and exposes the narrow transport
// used by the discovery synchronizer.
package mqtt

import "context"

// Message is an inbound message.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler processes an inbound message.
type Handler func(ctx context.Context, msg Message)

// Transport is the broker surface the synchronizer uses. *Client satisfies
// it; tests substitute mqtttest.Broker.
type Transport interface {
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error
	// Subscribe registers handler for filter. Subscriptions are renewed on
	// every (re)connect.
	Subscribe(filter string, qos byte, handler Handler) error
	IsConnected() bool
}
