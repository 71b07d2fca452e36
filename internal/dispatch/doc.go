// Package dispatch executes device power commands.
//
// A Dispatcher resolves the command string for an on/off request, hands it to
// a Sender, and retries exactly once after a fixed backoff. A failed retry is
// logged and written to the diagnostics sink; it is reported to the caller as
// a failed Result, never as a panic or a raised error.
//
// Entry points:
//
//   - TurnDeviceOn / TurnDeviceOff: manual control. Schedule-blind and
//     liveness-blind; a nil device is ErrInvalidArgument.
//   - TurnOutletOn / TurnOutletOff: per-outlet control of a power strip.
//     Fails closed when the device is offline, not a power strip, or the
//     index is out of range. Otherwise records the outlet state even if no
//     outlet command could be sent.
//   - ExecuteAuto: the scheduler's automatic path.
//
// Senders:
//
//   - StubSender: treats the literal command "fail" as a failure
//   - MQTTSender: publishes to powerlogic/command/{device}
//   - ExecSender: runs the command through a shell with a timeout
package dispatch
