package influxdb

import "errors"

// Errors returned by the recorder. Check them with errors.Is.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled")

	// ErrConnectionFailed is returned when the server cannot be pinged at startup.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck once the client is closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps batch write errors passed to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
