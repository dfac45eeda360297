// Package mqtttest provides an in-memory mqtt.Transport for tests.
package mqtttest

import (
	"context"
	"strings"
	"sync"

	"github.com/d2ha/d2ha/lib/mqtt"
)

// Published is one recorded publish.
type Published struct {
	Topic   string
	Payload string
	QoS     byte
	Retain  bool
}

type subscription struct {
	filter  string
	handler mqtt.Handler
}

// Broker records publishes, keeps retained payloads and routes Deliver calls
// to matching subscriptions.
type Broker struct {
	mu sync.Mutex

	Connected bool
	// PublishErr fails publishes to the given topics.
	PublishErr map[string]error

	published []Published
	retained  map[string]string
	subs      []subscription
}

// New returns a connected broker.
func New() *Broker {
	return &Broker{
		Connected:  true,
		PublishErr: map[string]error{},
		retained:   map[string]string{},
	}
}

func (b *Broker) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.Connected {
		return mqtt.ErrNotConnected
	}
	if err, ok := b.PublishErr[topic]; ok {
		return err
	}
	b.published = append(b.published, Published{Topic: topic, Payload: string(payload), QoS: qos, Retain: retain})
	if retain {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = string(payload)
		}
	}
	return nil
}

func (b *Broker) Subscribe(filter string, qos byte, handler mqtt.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{filter: filter, handler: handler})
	return nil
}

func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Connected
}

// SetConnected toggles the connection state.
func (b *Broker) SetConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Connected = v
}

// Deliver hands an inbound message to every matching subscription
// synchronously.
func (b *Broker) Deliver(ctx context.Context, topic, payload string) {
	b.mu.Lock()
	var handlers []mqtt.Handler
	for _, s := range b.subs {
		if Match(s.filter, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(ctx, mqtt.Message{Topic: topic, Payload: []byte(payload)})
	}
}

// Published returns a copy of every recorded publish.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// Reset forgets recorded publishes but keeps retained payloads.
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = nil
}

// Retained returns the retained payload of topic.
func (b *Broker) Retained(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return p, ok
}

// RetainedTopics returns every topic holding a retained payload.
func (b *Broker) RetainedTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.retained))
	for t := range b.retained {
		out = append(out, t)
	}
	return out
}

// Filters returns the subscribed topic filters.
func (b *Broker) Filters() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.filter)
	}
	return out
}

// Match reports whether topic matches an MQTT filter with + and # wildcards.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

var _ mqtt.Transport = (*Broker)(nil)
