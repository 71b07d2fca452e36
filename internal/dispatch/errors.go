package dispatch

import "errors"

// Domain-specific errors for command dispatch.
var (
	// ErrInvalidArgument is returned when a manual-control call names no device.
	ErrInvalidArgument = errors.New("dispatch: invalid argument")

	// ErrNoSuchCommand is reported when a device has no command for the requested key.
	ErrNoSuchCommand = errors.New("dispatch: no such command")

	// ErrCommandFailed is returned by the automatic entry point when delivery failed.
	ErrCommandFailed = errors.New("dispatch: command failed")

	// ErrSendFailed is returned by senders when the transport rejected a command.
	ErrSendFailed = errors.New("dispatch: send failed")

	// ErrUnknownTransport is returned when the configured transport has no sender.
	ErrUnknownTransport = errors.New("dispatch: unknown transport")

	// ErrTransportUnavailable is returned when a transport's dependency is missing.
	ErrTransportUnavailable = errors.New("dispatch: transport unavailable")
)
