package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the PowerLogic MQTT hierarchy.
//
// Device segments carry the registered device name verbatim. Device names
// are validated to exclude '/', '+' and '#', so a name is always exactly one
// topic level.
const (
	// TopicPrefix is the root of every PowerLogic topic.
	TopicPrefix = "powerlogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "powerlogic/system"
)

// Topics provides builders for PowerLogic MQTT topics.
// Using these helpers keeps publishers and subscribers in agreement:
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.Command("Lab PC")
//	// Returns: "powerlogic/command/Lab PC"
type Topics struct{}

// Command returns the topic on which device commands are published.
// An agent on the device side executes the payload's command string.
//
// Example: powerlogic/command/Projector
func (Topics) Command(device string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, device)
}

// Presence returns the topic a device agent publishes heartbeats on.
//
// Example: powerlogic/presence/Projector
func (Topics) Presence(device string) string {
	return fmt.Sprintf("%s/presence/%s", TopicPrefix, device)
}

// DeviceState returns the retained topic carrying a device's online state.
//
// Example: powerlogic/state/Projector
func (Topics) DeviceState(device string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, device)
}

// Diagnostics returns the topic diagnostic lines are mirrored to.
//
// Example: powerlogic/diagnostics
func (Topics) Diagnostics() string {
	return fmt.Sprintf("%s/diagnostics", TopicPrefix)
}

// SystemStatus returns the system status topic.
//
// Example: powerlogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllPresence returns a pattern matching every device heartbeat.
//
// Pattern: powerlogic/presence/+
func (Topics) AllPresence() string {
	return fmt.Sprintf("%s/presence/+", TopicPrefix)
}

// AllCommands returns a pattern matching every device command. Device-side
// agents subscribe to it.
//
// Pattern: powerlogic/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// DeviceFromTopic extracts the device segment from a topic of the form
// powerlogic/{kind}/{device}. It reports false when the topic is of a
// different kind or shape.
func (Topics) DeviceFromTopic(kind, topic string) (string, bool) {
	prefix := TopicPrefix + "/" + kind + "/"
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
