package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/powerlogic-core/internal/infrastructure/config"
)

// Client is the controller's broker connection.
//
// It publishes device commands, retained device state and diagnostics, and
// receives presence heartbeats. Subscriptions are remembered and replayed on
// every reconnect, and the controller's status topic is republished each
// time the session comes back.
//
// All methods are safe for concurrent use.
type Client struct {
	paho     pahomqtt.Client
	clientID string
	qos      byte

	// maxAttempts stops automatic reconnection after that many failed
	// attempts in a row. Zero means retry forever.
	maxAttempts int

	mu           sync.RWMutex
	connected    bool
	attempts     int
	routes       map[string]MessageHandler
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the logging the client needs. *logging.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives one message. A returned error is logged; it does
// not affect acknowledgement. Handlers run on paho goroutines.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker once and returns a client that keeps the session
// alive from then on.
//
// Returns ErrConnectionFailed if the broker cannot be reached.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) { c.reconnecting() })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: %s: timeout after %v", ErrConnectionFailed, brokerURL(cfg), connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The connect handler runs asynchronously; report connected now.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		clientID:    cfg.Broker.ClientID,
		qos:         byte(cfg.QoS),
		maxAttempts: cfg.Reconnect.MaxAttempts,
		routes:      make(map[string]MessageHandler),
		logger:      noopLogger{},
	}
}

// sessionUp runs on the first connection and after every reconnect.
func (c *Client) sessionUp() {
	c.mu.Lock()
	c.connected = true
	c.attempts = 0
	routes := make(map[string]MessageHandler, len(c.routes))
	for topic, h := range c.routes {
		routes[topic] = h
	}
	callback := c.onConnect
	logger := c.logger
	c.mu.Unlock()

	// Handlers must not wait on tokens here; failures are logged as they land.
	for topic, h := range routes {
		token := c.paho.Subscribe(topic, c.qos, c.deliver(h))
		go func(topic string) {
			if token.WaitTimeout(publishTimeout) && token.Error() == nil {
				return
			}
			logger.Error("restoring MQTT subscription failed", "topic", topic, "error", token.Error())
		}(topic)
	}

	c.paho.Publish(Topics{}.SystemStatus(), c.qos, true, statusPayload(c.clientID, statusOnline, ""))

	if len(routes) > 0 {
		logger.Info("MQTT session up", "subscriptions", len(routes))
	}
	if callback != nil {
		callback()
	}
}

func (c *Client) sessionLost(err error) {
	c.mu.Lock()
	c.connected = false
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// reconnecting counts attempts and gives up once maxAttempts is exceeded.
func (c *Client) reconnecting() {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	logger := c.logger
	c.mu.Unlock()

	if c.maxAttempts > 0 && attempts > c.maxAttempts {
		logger.Error("MQTT reconnect attempts exhausted", "attempts", c.maxAttempts)
		// Disconnect from outside paho's reconnect goroutine.
		go c.paho.Disconnect(0)
		return
	}
	logger.Warn("MQTT reconnecting", "attempt", attempts)
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.paho.Publish(Topics{}.SystemStatus(), c.qos, true, statusPayload(c.clientID, statusOffline, reasonShutdown))
		token.WaitTimeout(publishTimeout)
	}
	c.paho.Disconnect(disconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known session state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect sets a callback run on the first connection and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the session drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for handler failures and reconnect progress.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// deliver adapts a MessageHandler to paho, logging errors and recovering
// panics so one bad heartbeat cannot take down the client.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
