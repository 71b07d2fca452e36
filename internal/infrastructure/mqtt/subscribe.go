package mqtt

import (
	"fmt"
)

// PresenceHandler receives one heartbeat. device is the topic's device
// segment exactly as published.
type PresenceHandler func(device string, payload []byte) error

// SubscribePresence routes every powerlogic/presence/{device} heartbeat to
// handler. The subscription is replayed after each reconnect.
func (c *Client) SubscribePresence(handler PresenceHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: presence handler is nil", ErrSubscribeFailed)
	}
	return c.subscribe(Topics{}.AllPresence(), presenceRoute(handler))
}

// presenceRoute rejects topics that do not carry exactly one device segment.
func presenceRoute(handler PresenceHandler) MessageHandler {
	return func(topic string, payload []byte) error {
		device, ok := Topics{}.DeviceFromTopic("presence", topic)
		if !ok {
			return fmt.Errorf("%w: not a presence topic: %s", ErrInvalidTopic, topic)
		}
		return handler(device, payload)
	}
}

// subscribe registers the route first so a session that comes up while the
// broker acknowledgement is pending still restores it.
func (c *Client) subscribe(topic string, handler MessageHandler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.routes[topic] = handler
	c.mu.Unlock()

	token := c.paho.Subscribe(topic, c.qos, c.deliver(handler))
	if !token.WaitTimeout(publishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

func (c *Client) forget(topic string) {
	c.mu.Lock()
	delete(c.routes, topic)
	c.mu.Unlock()
}
