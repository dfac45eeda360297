package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/otel/metric"
)

// Defaults for Config.
const (
	DefaultPort                 = 1883
	DefaultKeepAlive            = 60 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultPublishTimeout       = 5 * time.Second
	DefaultMaxReconnectInterval = 2 * time.Minute
	DefaultConnectRetryElapsed  = 2 * time.Minute
)

// Config configures the broker connection.
type Config struct {
	Broker   string
	Port     int
	Username string
	Password string
	ClientID string

	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	MaxReconnectInterval time.Duration
	// ConnectRetryElapsed bounds the retries of the first connection.
	ConnectRetryElapsed time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	if c.ConnectRetryElapsed <= 0 {
		c.ConnectRetryElapsed = DefaultConnectRetryElapsed
	}
}

// BrokerURL is the tcp URL of the configured broker.
func (c Config) BrokerURL() string {
	return "tcp://" + net.JoinHostPort(c.Broker, strconv.Itoa(c.Port))
}

type subscription struct {
	qos     byte
	handler Handler
}

// Client is a paho client with subscriptions that survive reconnects.
type Client struct {
	cfg     Config
	client  paho.Client
	logger  *slog.Logger
	metrics *Metrics

	mu   sync.Mutex
	subs map[string]subscription
	// base is the context handed to message handlers.
	base context.Context
}

// NewClient builds a client for cfg. Nothing is dialed until Connect.
// meter may be nil.
func NewClient(cfg Config, log *slog.Logger, meter metric.Meter) (*Client, error) {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: log,
		base:   context.Background(),
		subs:   make(map[string]subscription),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(cfg.MaxReconnectInterval).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			c.logger.Info("reconnecting to mqtt broker", "broker", cfg.BrokerURL())
			c.recordReconnect()
		})
	if cfg.Username != "" || cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	c.client = paho.NewClient(opts)

	if meter != nil {
		metrics, err := newMQTTMetrics(meter, c)
		if err != nil {
			return nil, fmt.Errorf("create mqtt metrics: %w", err)
		}
		c.metrics = metrics
	}
	return c, nil
}

// Connect dials the broker, retrying with exponential backoff until
// ConnectRetryElapsed passes or ctx is done. Later drops are handled by
// paho's auto-reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.base = ctx
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "connecting to mqtt broker", "broker", c.cfg.BrokerURL(), "client_id", c.cfg.ClientID)

	connect := func() error {
		token := c.client.Connect()
		if !token.WaitTimeout(c.cfg.ConnectTimeout) {
			return ErrTimeout
		}
		if err := token.Error(); err != nil {
			c.logger.WarnContext(ctx, "mqtt connect attempt failed", "error", err)
			return err
		}
		return nil
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(c.cfg.ConnectRetryElapsed),
	)
	if err := backoff.Retry(connect, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("connect to %s: %w", c.cfg.BrokerURL(), err)
	}
	return nil
}

// Disconnect closes the connection, waiting up to quiesce for in-flight work.
func (c *Client) Disconnect(quiesce time.Duration) {
	c.client.Disconnect(uint(quiesce.Milliseconds()))
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Publish sends payload and waits for the broker acknowledgement (QoS > 0)
// or for the write (QoS 0).
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	if !c.client.IsConnected() {
		c.recordPublish(ctx, ErrNotConnected)
		return ErrNotConnected
	}
	err := wait(ctx, c.client.Publish(topic, qos, retain, payload), c.cfg.PublishTimeout)
	c.recordPublish(ctx, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Subscribe(filter string, qos byte, handler Handler) error {
	c.mu.Lock()
	c.subs[filter] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil
	}
	return c.subscribe(filter, qos, handler)
}

func (c *Client) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base
}

func (c *Client) subscribe(filter string, qos byte, handler Handler) error {
	ctx := c.baseContext()
	token := c.client.Subscribe(filter, qos, func(_ paho.Client, m paho.Message) {
		c.recordReceived(ctx)
		handler(ctx, Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if err := wait(ctx, token, c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	return nil
}

func (c *Client) onConnect(paho.Client) {
	c.logger.Info("mqtt connected", "broker", c.cfg.BrokerURL())

	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for f, s := range c.subs {
		subs[f] = s
	}
	c.mu.Unlock()

	// Subscribing blocks on the broker ack, so it cannot run on paho's
	// connection goroutine.
	go func() {
		for filter, s := range subs {
			if err := c.subscribe(filter, s.qos, s.handler); err != nil {
				c.logger.Error("mqtt subscription failed", "filter", filter, "error", err)
				continue
			}
			c.logger.Info("mqtt subscribed", "filter", filter)
		}
	}()
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("mqtt connection lost", "error", err)
}

func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
