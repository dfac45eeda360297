package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Broker: "mosquitto"}
	cfg.applyDefaults()
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultMaxReconnectInterval, cfg.MaxReconnectInterval)
	assert.Equal(t, "tcp://mosquitto:1883", cfg.BrokerURL())
	assert.Equal(t, "tcp://[::1]:1884", Config{Broker: "::1", Port: 1884}.BrokerURL())
}

func TestPublishWithoutConnection(t *testing.T) {
	c, err := NewClient(Config{Broker: "127.0.0.1", ClientID: "d2ha_test"}, nil, nil)
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
	err = c.Publish(context.Background(), "d2ha/docker/state", 0, true, []byte("on"))
	assert.ErrorIs(t, err, ErrNotConnected)

	// Subscriptions made while offline are kept for the next connect.
	require.NoError(t, c.Subscribe("d2ha/+/set/+", 0, func(context.Context, Message) {}))
	assert.Contains(t, c.subs, "d2ha/+/set/+")
}

func TestConnectGivesUp(t *testing.T) {
	c, err := NewClient(Config{
		Broker:              "127.0.0.1",
		Port:                1, // nothing listens here
		ClientID:            "d2ha_test",
		ConnectTimeout:      200 * time.Millisecond,
		ConnectRetryElapsed: 500 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = c.Connect(ctx)
	require.Error(t, err)
	assert.False(t, c.IsConnected())
}
