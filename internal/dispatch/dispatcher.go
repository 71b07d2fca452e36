package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/powerlogic-core/internal/device"
)

// DefaultRetryBackoff is the pause between a failed send and its single retry.
const DefaultRetryBackoff = 5 * time.Second

// Sender delivers a command string to a device.
//
// Implementations bound their own blocking time; the dispatcher adds none.
type Sender interface {
	Send(ctx context.Context, dev *device.Device, command string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, dev *device.Device, command string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, dev *device.Device, command string) error {
	return f(ctx, dev, command)
}

// OutletStore persists outlet on/off state. The device registry implements it.
type OutletStore interface {
	SetOutletOn(ctx context.Context, name string, index int, on bool) error
}

// DiagnosticSink receives durable failure records. Implementations must not
// fail the caller; write problems are their own to report.
type DiagnosticSink interface {
	AppendDiagnostic(ctx context.Context, message string, at time.Time)
}

// Metrics records command outcomes.
type Metrics interface {
	WriteCommandMetric(device string, key string, ok bool, attempts int)
}

// Result describes the outcome of one dispatch request.
type Result struct {
	OK       bool   `json:"ok"`
	Device   string `json:"device"`
	Key      string `json:"key,omitempty"`
	Command  string `json:"command,omitempty"`
	Outlet   *int   `json:"outlet,omitempty"`
	Attempts int    `json:"attempts"`
	Message  string `json:"message,omitempty"`
}

// Dispatcher executes on/off commands with a single retry.
//
// Thread Safety: all methods are safe for concurrent use once configured.
type Dispatcher struct {
	sender      Sender
	outlets     OutletStore
	diagnostics DiagnosticSink
	metrics     Metrics
	logger      Logger

	backoff time.Duration
	wait    func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// NewDispatcher creates a dispatcher.
//
// Parameters:
//   - sender: Transport used for every command
//   - outlets: Store for outlet state (may be nil; only the passed device is updated)
//   - diagnostics: Sink for failure records (may be nil)
//   - logger: Logger instance (may be nil)
func NewDispatcher(sender Sender, outlets OutletStore, diagnostics DiagnosticSink, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		sender:      sender,
		outlets:     outlets,
		diagnostics: diagnostics,
		logger:      logger,
		backoff:     DefaultRetryBackoff,
		wait:        sleepContext,
		now:         time.Now,
	}
}

// SetRetryBackoff overrides the pause before the retry. Non-positive values
// are ignored.
func (d *Dispatcher) SetRetryBackoff(backoff time.Duration) {
	if backoff > 0 {
		d.backoff = backoff
	}
}

// SetMetrics sets an optional command metrics recorder.
func (d *Dispatcher) SetMetrics(m Metrics) {
	d.metrics = m
}

// ExecuteCommand looks up the command for key and delivers it.
//
// A missing command is a failed Result mentioning "no such command"; a send
// that fails twice is a failed Result carrying the retry failure message.
func (d *Dispatcher) ExecuteCommand(ctx context.Context, dev *device.Device, key device.CommandKey) Result {
	res, _ := d.execute(ctx, dev, key)
	return res
}

// execute is ExecuteCommand with the failure classified: ErrInvalidArgument,
// ErrNoSuchCommand or ErrCommandFailed.
func (d *Dispatcher) execute(ctx context.Context, dev *device.Device, key device.CommandKey) (Result, error) {
	if dev == nil {
		err := fmt.Errorf("%w: no device", ErrInvalidArgument)
		return Result{Key: string(key), Message: err.Error()}, err
	}

	command, ok := dev.Commands[key]
	if !ok || command == "" {
		err := fmt.Errorf("%w '%s' on device '%s'", ErrNoSuchCommand, key, dev.Name)
		d.logger.Warn("no such command",
			"device", dev.Name,
			"key", key,
		)
		d.recordMetric(dev.Name, key, false, 0)
		return Result{
			Device:  dev.Name,
			Key:     string(key),
			Message: err.Error(),
		}, err
	}

	res := d.deliver(ctx, dev, command)
	res.Key = string(key)
	d.recordMetric(dev.Name, key, res.OK, res.Attempts)
	if !res.OK {
		return res, fmt.Errorf("%w: %s", ErrCommandFailed, res.Message)
	}
	return res, nil
}

// TurnDeviceOn sends the device's "on" command.
func (d *Dispatcher) TurnDeviceOn(ctx context.Context, dev *device.Device) (Result, error) {
	return d.turnDevice(ctx, dev, device.CommandOn)
}

// TurnDeviceOff sends the device's "off" command.
func (d *Dispatcher) TurnDeviceOff(ctx context.Context, dev *device.Device) (Result, error) {
	return d.turnDevice(ctx, dev, device.CommandOff)
}

// turnDevice is the manual path. It never reads schedule or liveness state.
func (d *Dispatcher) turnDevice(ctx context.Context, dev *device.Device, key device.CommandKey) (Result, error) {
	if dev == nil {
		return Result{Key: string(key)}, fmt.Errorf("%w: device is required", ErrInvalidArgument)
	}

	d.logger.Info("manual command",
		"device", dev.Name,
		"key", key,
	)
	return d.ExecuteCommand(ctx, dev, key), nil
}

// TurnOutletOn switches one outlet of a power strip on.
func (d *Dispatcher) TurnOutletOn(ctx context.Context, dev *device.Device, index int) (Result, error) {
	return d.turnOutlet(ctx, dev, index, true)
}

// TurnOutletOff switches one outlet of a power strip off.
func (d *Dispatcher) TurnOutletOff(ctx context.Context, dev *device.Device, index int) (Result, error) {
	return d.turnOutlet(ctx, dev, index, false)
}

func (d *Dispatcher) turnOutlet(ctx context.Context, dev *device.Device, index int, on bool) (Result, error) {
	key := device.CommandOff
	if on {
		key = device.CommandOn
	}
	if dev == nil {
		return Result{Key: string(key), Outlet: &index}, fmt.Errorf("%w: device is required", ErrInvalidArgument)
	}

	res := Result{Device: dev.Name, Key: string(key), Outlet: &index}

	switch {
	case !dev.IsPowerStrip():
		res.Message = fmt.Sprintf("device '%s' is not a %s", dev.Name, device.PowerStripType)
	case !dev.IsOnline:
		res.Message = fmt.Sprintf("device '%s' is offline", dev.Name)
	case index < 0 || index >= len(dev.Outlets):
		res.Message = fmt.Sprintf("outlet index %d out of range for device '%s' (%d outlets)", index, dev.Name, len(dev.Outlets))
	}
	if res.Message != "" {
		d.logger.Warn("outlet command rejected",
			"device", dev.Name,
			"outlet", index,
			"reason", res.Message,
		)
		return res, nil
	}

	outlet := dev.Outlets[index]
	command, ok := outlet.Commands[key]
	if !ok || command == "" {
		d.logger.Info("outlet has no command, falling back to device command",
			"device", dev.Name,
			"outlet", outlet.Name,
			"key", key,
		)
		command, ok = dev.Commands[key]
	}

	if !ok || command == "" {
		d.logger.Warn("no command for outlet, recording state only",
			"device", dev.Name,
			"outlet", outlet.Name,
			"key", key,
		)
	} else {
		sent := d.deliver(ctx, dev, command)
		res.Command = sent.Command
		res.Attempts = sent.Attempts
		if !sent.OK {
			d.logger.Warn("outlet command not delivered, recording state anyway",
				"device", dev.Name,
				"outlet", outlet.Name,
				"reason", sent.Message,
			)
		}
		d.recordMetric(dev.Name, key, sent.OK, sent.Attempts)
	}

	if d.outlets != nil {
		if err := d.outlets.SetOutletOn(ctx, dev.Name, index, on); err != nil {
			d.logger.Error("failed to persist outlet state",
				"device", dev.Name,
				"outlet", outlet.Name,
				"error", err,
			)
			res.Message = fmt.Sprintf("persisting outlet state: %v", err)
			return res, nil
		}
	}

	dev.Outlets[index].IsOn = on
	res.OK = true
	return res, nil
}

// ExecuteAuto is the scheduler's automatic entry point. The action has
// already been gated on liveness and dependencies by the caller.
func (d *Dispatcher) ExecuteAuto(ctx context.Context, dev *device.Device, action device.Action) error {
	if dev == nil {
		return fmt.Errorf("%w: device is required", ErrInvalidArgument)
	}

	action, err := device.ParseAction(string(action))
	if err != nil {
		return err
	}

	_, err = d.execute(ctx, dev, action.CommandKey())
	return err
}

// deliver sends command, retrying exactly once after the backoff.
func (d *Dispatcher) deliver(ctx context.Context, dev *device.Device, command string) Result {
	res := Result{Device: dev.Name, Command: command, Attempts: 1}

	err := d.sender.Send(ctx, dev, command)
	if err != nil {
		d.logger.Warn("command failed, retrying",
			"device", dev.Name,
			"command", command,
			"backoff", d.backoff,
			"error", err,
		)

		if waitErr := d.wait(ctx, d.backoff); waitErr != nil {
			res.Message = fmt.Sprintf("command '%s' on device '%s' cancelled before retry: %v", command, dev.Name, waitErr)
			d.logger.Warn("retry abandoned",
				"device", dev.Name,
				"command", command,
				"error", waitErr,
			)
			return res
		}

		res.Attempts = 2
		err = d.sender.Send(ctx, dev, command)
	}

	if err != nil {
		res.Message = fmt.Sprintf("command '%s' failed on device '%s' after retry", command, dev.Name)
		d.logger.Error(res.Message,
			"device", dev.Name,
			"command", command,
			"attempts", res.Attempts,
			"error", err,
		)
		if d.diagnostics != nil {
			d.diagnostics.AppendDiagnostic(ctx, res.Message, d.now().UTC())
		}
		return res
	}

	d.logger.Debug("command delivered",
		"device", dev.Name,
		"command", command,
		"attempts", res.Attempts,
	)
	res.OK = true
	return res
}

func (d *Dispatcher) recordMetric(name string, key device.CommandKey, ok bool, attempts int) {
	if d.metrics != nil {
		d.metrics.WriteCommandMetric(name, string(key), ok, attempts)
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
