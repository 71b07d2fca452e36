package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/powerlogic-core/internal/device"
	"github.com/nerrad567/powerlogic-core/internal/infrastructure/config"
	"github.com/nerrad567/powerlogic-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/powerlogic-core/internal/process"
)

// Transport names accepted by dispatch.transport.
const (
	TransportStub = "stub"
	TransportMQTT = "mqtt"
	TransportExec = "exec"
)

// stubFailCommand is the command string StubSender refuses.
const stubFailCommand = "fail"

// StubSender accepts every command except the literal "fail".
type StubSender struct{}

// Send implements Sender.
func (StubSender) Send(_ context.Context, dev *device.Device, command string) error {
	if command == stubFailCommand {
		return fmt.Errorf("%w: stub rejected command for %s", ErrSendFailed, dev.Name)
	}
	return nil
}

// Publisher is the subset of the MQTT client used for command delivery.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// CommandMessage is the JSON payload published for each command.
type CommandMessage struct {
	ID       string    `json:"id"`
	Device   string    `json:"device"`
	Address  string    `json:"address,omitempty"`
	Command  string    `json:"command"`
	IssuedAt time.Time `json:"issued_at"`
}

// MQTTSender publishes commands to powerlogic/command/{device} for a device
// agent to execute. Delivery means the broker accepted the message.
type MQTTSender struct {
	client Publisher
	now    func() time.Time
}

// NewMQTTSender creates a sender publishing through client.
func NewMQTTSender(client Publisher) *MQTTSender {
	return &MQTTSender{client: client, now: time.Now}
}

// Send implements Sender.
func (s *MQTTSender) Send(ctx context.Context, dev *device.Device, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := CommandMessage{
		ID:       "cmd-" + uuid.NewString()[:8],
		Device:   dev.Name,
		Address:  dev.Address,
		Command:  command,
		IssuedAt: s.now().UTC(),
	}
	if err := s.client.PublishJSON(mqtt.Topics{}.Command(dev.Name), msg, false); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// CommandRunner runs one shell command. process.Runner implements it.
type CommandRunner interface {
	Run(ctx context.Context, cfg process.Config) (process.Result, error)
}

// ExecSender runs the command string through a shell on the controller host.
type ExecSender struct {
	runner  CommandRunner
	shell   string
	timeout time.Duration
}

// NewExecSender creates a sender that runs commands with shell -c.
func NewExecSender(runner CommandRunner, shell string, timeout time.Duration) *ExecSender {
	return &ExecSender{runner: runner, shell: shell, timeout: timeout}
}

// Send implements Sender.
func (s *ExecSender) Send(ctx context.Context, dev *device.Device, command string) error {
	cfg := process.ShellConfig(dev.Name, s.shell, command)
	if s.timeout > 0 {
		cfg.Timeout = s.timeout
	}
	if dev.Address != "" {
		cfg.Env = []string{"POWERLOGIC_DEVICE=" + dev.Name, "POWERLOGIC_ADDRESS=" + dev.Address}
	}

	res, err := s.runner.Run(ctx, cfg)
	if err != nil {
		out := strings.TrimSpace(res.Output)
		if out != "" {
			return fmt.Errorf("%w: %w: %s", ErrSendFailed, err, out)
		}
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// NewSender builds the sender named by cfg.Transport.
//
// publisher may be nil unless the transport is mqtt; runner may be nil unless
// the transport is exec.
func NewSender(cfg config.DispatchConfig, publisher Publisher, runner CommandRunner) (Sender, error) {
	switch strings.ToLower(cfg.Transport) {
	case "", TransportStub:
		return StubSender{}, nil
	case TransportMQTT:
		if publisher == nil {
			return nil, fmt.Errorf("%w: mqtt client not connected", ErrTransportUnavailable)
		}
		return NewMQTTSender(publisher), nil
	case TransportExec:
		if runner == nil {
			return nil, fmt.Errorf("%w: no command runner", ErrTransportUnavailable)
		}
		return NewExecSender(runner, cfg.ExecShell, cfg.ExecTimeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}
