package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeviceState is the retained payload on powerlogic/state/{device}.
type DeviceState struct {
	Online bool      `json:"online"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// PublishJSON marshals v and publishes it at the configured QoS.
//
// Retained messages are replayed to new subscribers; use them for state,
// never for commands.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload for %s: %w", ErrPublishFailed, topic, err)
	}
	return c.publish(topic, payload, retained)
}

// PublishDeviceState publishes a device's retained online state.
func (c *Client) PublishDeviceState(device string, state DeviceState) error {
	if !validSegment(device) {
		return fmt.Errorf("%w: device name %q is not a single topic level", ErrInvalidTopic, device)
	}
	if state.At.IsZero() {
		state.At = time.Now().UTC()
	}
	return c.PublishJSON(Topics{}.DeviceState(device), state, true)
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %s: %d bytes", ErrPayloadTooLarge, topic, len(payload))
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.paho.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// validSegment reports whether s fits in exactly one topic level.
func validSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
