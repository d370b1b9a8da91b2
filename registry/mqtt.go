package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Subscriber (re)installs MQTT subscriptions. It runs on every connect, so
// subscriptions survive broker restarts.
type Subscriber func(client mqtt.Client) error

// MQTTConnection owns the broker connection shared by the anchor store and
// the publisher.
type MQTTConnection struct {
	client      mqtt.Client
	logger      *zap.Logger
	mu          sync.RWMutex
	isConnected bool
	subscribers []Subscriber
}

// NewMQTTConnection builds a client from cfg without connecting. Event order
// matters to the engine, so messages are delivered sequentially.
func NewMQTTConnection(cfg MQTTConfig, logger *zap.Logger) (*MQTTConnection, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &MQTTConnection{logger: logger.Named("mqtt")}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "anchormesh"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.logger.Info("reconnecting")
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// newMQTTConnectionWithClient wraps an existing client, typically a mock.
func newMQTTConnectionWithClient(client mqtt.Client, logger *zap.Logger) *MQTTConnection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTConnection{client: client, logger: logger.Named("mqtt")}
}

// Client returns the underlying paho client.
func (c *MQTTConnection) Client() mqtt.Client {
	return c.client
}

// AddSubscriber registers s to run on every connect. Register before Connect.
func (c *MQTTConnection) AddSubscriber(s Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, s)
}

// Connect dials the broker with exponential backoff until it succeeds or ctx
// ends.
func (c *MQTTConnection) Connect(ctx context.Context) error {
	retryDelay := 1 * time.Second
	const maxRetryDelay = 60 * time.Second

	for {
		c.logger.Info("connecting to broker")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.logger.Info("connected to broker")
				c.setConnected(true)
				return nil
			}
			c.logger.Warn("connection failed", zap.Error(token.Error()))
		} else {
			c.logger.Warn("connection timeout")
		}

		c.logger.Info("retrying connection", zap.Duration("delay", retryDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTConnection) onConnect(client mqtt.Client) {
	c.setConnected(true)
	c.mu.RLock()
	subscribers := c.subscribers
	c.mu.RUnlock()

	for _, s := range subscribers {
		if err := s(client); err != nil {
			c.logger.Error("subscribe failed", zap.Error(err))
		}
	}
}

func (c *MQTTConnection) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("connection interrupted, auto-reconnect will retry", zap.Error(err))
	c.setConnected(false)
}

// Resubscribe runs the registered subscribers against the current client.
func (c *MQTTConnection) Resubscribe() {
	c.onConnect(c.client)
}

// IsConnected reports the last known connection state.
func (c *MQTTConnection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTConnection) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect closes the connection after a short quiesce.
func (c *MQTTConnection) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from broker")
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}

// subscribe installs handler on topic and waits for the broker's answer.
func subscribe(client mqtt.Client, topic string, qos byte, handler mqtt.MessageHandler) error {
	token := client.Subscribe(topic, qos, handler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribing to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

// waitToken waits for token to complete, ctx to end or timeout to pass.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timed out after %s", timeout)
	}
}

// topicSegment returns the topic level at index i (negative counts from the
// end), or "" when out of range.
func topicSegment(topic string, i int) string {
	parts := strings.Split(topic, "/")
	if i < 0 {
		i += len(parts)
	}
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}
