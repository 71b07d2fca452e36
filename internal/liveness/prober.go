package liveness

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/powerlogic-core/internal/device"
	"github.com/nerrad567/powerlogic-core/internal/infrastructure/config"
	"github.com/nerrad567/powerlogic-core/internal/infrastructure/mqtt"
)

// Probe names accepted by liveness.probe.
const (
	ProbeStub     = "stub"
	ProbeTCP      = "tcp"
	ProbePresence = "presence"
)

// defaultTCPPort is dialled when a device address carries no port.
const defaultTCPPort = "22"

// Prober checks whether one device is reachable.
//
// A returned error is treated exactly like a false result.
type Prober interface {
	Probe(ctx context.Context, dev *device.Device) (bool, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, dev *device.Device) (bool, error)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, dev *device.Device) (bool, error) {
	return f(ctx, dev)
}

// StubProber reports every device alive.
type StubProber struct{}

// Probe implements Prober.
func (StubProber) Probe(context.Context, *device.Device) (bool, error) {
	return true, nil
}

// TCPProber considers a device alive when a TCP connection to its address
// succeeds. Addresses without a port use port 22.
type TCPProber struct {
	dialer net.Dialer
}

// NewTCPProber creates a TCP connect prober. The per-probe deadline comes
// from the monitor's context.
func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

// Probe implements Prober.
func (p *TCPProber) Probe(ctx context.Context, dev *device.Device) (bool, error) {
	addr := strings.TrimSpace(dev.Address)
	if addr == "" {
		return false, fmt.Errorf("%w: %s", ErrNoAddress, dev.Name)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), defaultTCPPort)
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", addr, err)
	}
	_ = conn.Close()
	return true, nil
}

// Subscriber is the subset of the MQTT client the presence probe needs.
type Subscriber interface {
	SubscribePresence(handler mqtt.PresenceHandler) error
}

// presenceMessage is the optional heartbeat payload. An empty or non-JSON
// payload counts as a heartbeat.
type presenceMessage struct {
	Online *bool `json:"online"`
}

// PresenceProber considers a device alive when its agent published a
// heartbeat on powerlogic/presence/{device} within the freshness window.
// A heartbeat carrying {"online":false} is an explicit goodbye.
type PresenceProber struct {
	window time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// NewPresenceProber creates a presence prober with the given freshness window.
func NewPresenceProber(window time.Duration) *PresenceProber {
	return &PresenceProber{
		window:   window,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

// Subscribe registers the heartbeat handler on all presence topics.
func (p *PresenceProber) Subscribe(sub Subscriber) error {
	if err := sub.SubscribePresence(p.HandleHeartbeat); err != nil {
		return fmt.Errorf("subscribing to presence: %w", err)
	}
	return nil
}

// HandleHeartbeat records a heartbeat from the named device's agent. It
// matches mqtt.PresenceHandler.
func (p *PresenceProber) HandleHeartbeat(name string, payload []byte) error {
	key := device.NameKey(name)

	var msg presenceMessage
	if len(payload) > 0 && json.Unmarshal(payload, &msg) == nil && msg.Online != nil && !*msg.Online {
		p.mu.Lock()
		delete(p.lastSeen, key)
		p.mu.Unlock()
		return nil
	}

	p.mu.Lock()
	p.lastSeen[key] = p.now()
	p.mu.Unlock()
	return nil
}

// Probe implements Prober.
func (p *PresenceProber) Probe(_ context.Context, dev *device.Device) (bool, error) {
	p.mu.RLock()
	seen, ok := p.lastSeen[device.NameKey(dev.Name)]
	p.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return p.now().Sub(seen) <= p.window, nil
}

// NewProber builds the prober named by cfg.Probe. sub may be nil unless the
// probe is presence.
func NewProber(cfg config.LivenessConfig, sub Subscriber) (Prober, error) {
	switch strings.ToLower(cfg.Probe) {
	case "", ProbeStub:
		return StubProber{}, nil
	case ProbeTCP:
		return NewTCPProber(), nil
	case ProbePresence:
		if sub == nil {
			return nil, fmt.Errorf("%w: presence probe needs mqtt", ErrProbeUnavailable)
		}
		p := NewPresenceProber(cfg.PresenceWindow)
		if err := p.Subscribe(sub); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProbe, cfg.Probe)
	}
}
