package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/twinplay/internal/errors"
	"github.com/tphakala/twinplay/internal/logger"
	"github.com/tphakala/twinplay/internal/observability/metrics"
	"github.com/tphakala/twinplay/internal/privacy"
)

const componentMQTT = "mqtt"

var (
	ErrNotConnected   = errors.NewStd("not connected to MQTT broker")
	ErrConnectTimeout = errors.NewStd("MQTT connection timeout")
	ErrPublishTimeout = errors.NewStd("MQTT publish timeout")
	ErrCooldown       = errors.NewStd("MQTT connection attempt too recent")
)

// client implements the Client interface on top of paho.
type client struct {
	config          Config
	metrics         *metrics.MQTTMetrics
	log             logger.Logger
	mu              sync.Mutex
	internalClient  paho.Client
	lastConnAttempt time.Time
}

// NewClient creates a new MQTT client. m may be nil.
func NewClient(cfg Config, m *metrics.MQTTMetrics) (Client, error) {
	if _, err := url.Parse(cfg.Broker); err != nil || cfg.Broker == "" {
		return nil, errors.New(fmt.Errorf("invalid broker URL %q", privacy.SanitizeBrokerURL(cfg.Broker))).
			Component(componentMQTT).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &client{
		config:  cfg,
		metrics: m,
		log:     GetLogger().With(logger.String("broker", privacy.SanitizeBrokerURL(cfg.Broker))),
	}, nil
}

// Connect resolves the broker host and connects. Paho keeps reconnecting
// in the background after a lost connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return fmt.Errorf("%w, last attempt was %v ago", ErrCooldown, since)
	}
	c.lastConnAttempt = time.Now()

	if err := resolveBroker(ctx, c.config.Broker); err != nil {
		c.metrics.IncrementErrors()
		return err
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.config.MaxReconnectDelay)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	if err := waitToken(ctx, token, c.config.ConnectTimeout, ErrConnectTimeout); err != nil {
		c.metrics.IncrementErrors()
		return errors.New(fmt.Errorf("connection error: %w", err)).
			Component(componentMQTT).
			Category(errors.CategoryMQTTConnection).
			Context("broker", privacy.SanitizeBrokerURL(c.config.Broker)).
			Build()
	}

	c.metrics.UpdateConnectionStatus(true)
	return nil
}

func resolveBroker(ctx context.Context, broker string) error {
	u, err := url.Parse(broker)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return nil
	}
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		return errors.New(fmt.Errorf("failed to resolve hostname %s: %w", host, err)).
			Component(componentMQTT).
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

// waitToken blocks until the token completes, ctx ends or timeout passes
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration, timeoutErr error) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return timeoutErr
	}
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnectedLocked() {
		return ErrNotConnected
	}

	c.log.Debug("publishing", logger.String("topic", topic), logger.Int("size", len(payload)))

	begin := time.Now()
	token := c.internalClient.Publish(topic, 1, c.config.Retain, payload)
	err := waitToken(ctx, token, c.config.PublishTimeout, ErrPublishTimeout)
	c.metrics.ObservePublish(begin, len(payload), err)
	if err != nil {
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnectedLocked()
}

func (c *client) isConnectedLocked() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient == nil {
		return
	}
	c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	c.internalClient = nil
	c.metrics.UpdateConnectionStatus(false)
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("connected to MQTT broker")
	c.metrics.UpdateConnectionStatus(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost", logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.IncrementErrors()
}

func (c *client) onReconnecting(paho.Client, *paho.ClientOptions) {
	c.log.Debug("reconnecting to MQTT broker")
	c.metrics.IncrementReconnectAttempts()
}
