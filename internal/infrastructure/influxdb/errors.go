package influxdb

import "errors"

// Sentinel errors for the telemetry sink, matched with errors.Is.
var (
	// ErrDisabled means the sink is turned off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrNotConnected means the client is not connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed means the initial ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)
