package liveness

import "errors"

// Domain-specific errors for liveness monitoring.
var (
	// ErrAlreadyStarted is returned when Start is called on a running monitor.
	ErrAlreadyStarted = errors.New("liveness: monitor already started")

	// ErrStopped is returned when Start is called after Stop.
	ErrStopped = errors.New("liveness: monitor stopped")

	// ErrInvalidInterval is returned for a non-positive probe interval.
	ErrInvalidInterval = errors.New("liveness: interval must be positive")

	// ErrNoAddress is returned by network probes for a device without an address.
	ErrNoAddress = errors.New("liveness: device has no address")

	// ErrUnknownProbe is returned when the configured probe has no implementation.
	ErrUnknownProbe = errors.New("liveness: unknown probe")

	// ErrProbeUnavailable is returned when a probe's dependency is missing.
	ErrProbeUnavailable = errors.New("liveness: probe unavailable")
)
