package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/powerlogic-core/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the first connection attempt.
	connectTimeout = 10 * time.Second

	// publishTimeout bounds waiting for a broker acknowledgement.
	publishTimeout = 5 * time.Second

	// disconnectQuiesce is how long Close lets in-flight work finish, in ms.
	disconnectQuiesce = 1000

	keepAlive = 60 * time.Second

	// maxPayloadSize caps outgoing payloads at 1 MB.
	maxPayloadSize = 1 << 20
)

// Controller status values published on powerlogic/system/status.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// systemStatus is the retained payload on powerlogic/system/status. The
// broker publishes the unexpected_disconnect form as our Last Will.
type systemStatus struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	// A struct of strings and a time always marshals.
	b, _ := json.Marshal(systemStatus{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
	return b
}

// brokerURL returns tcp://host:port, or ssl:// when TLS is enabled.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions maps the broker config onto paho options.
//
// The first connection is attempted once so a missing broker fails startup
// immediately; after that paho reconnects on its own with backoff capped at
// reconnect.max_delay. Heartbeats from different agents are independent, so
// message ordering is not enforced.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetOrderMatters(false)

	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetBinaryWill(Topics{}.SystemStatus(), statusPayload(cfg.Broker.ClientID, statusOffline, reasonUnexpected), 1, true)

	return opts
}
