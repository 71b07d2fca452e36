package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no device has the given name.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when a name collides case-insensitively
	// with an existing device.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty, too long, or
	// contains characters reserved by MQTT topics and URLs.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidAction is returned for an action other than turn_on or turn_off.
	ErrInvalidAction = errors.New("device: invalid action")

	// ErrInvalidCommandKey is returned for a command key other than on or off.
	ErrInvalidCommandKey = errors.New("device: invalid command key")

	// ErrInvalidDependency is returned for a malformed dependency.
	ErrInvalidDependency = errors.New("device: invalid dependency")

	// ErrInvalidOutlet is returned for a malformed outlet.
	ErrInvalidOutlet = errors.New("device: invalid outlet")

	// ErrIndexOutOfRange is returned when a schedule or outlet index does
	// not exist on the device.
	ErrIndexOutOfRange = errors.New("device: index out of range")

	// ErrEntryChanged is returned when a one-time schedule entry no longer
	// exists in the form it had when it came due.
	ErrEntryChanged = errors.New("device: schedule entry changed")
)
