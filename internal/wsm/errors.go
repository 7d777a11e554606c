package wsm

import "errors"

// Domain errors for the wsm package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, wsm.ErrDeviceNotFound) {
//	    // handle unknown device
//	}
var (
	// ErrDeviceNotFound is returned when a command targets a device
	// the core has never heard from.
	ErrDeviceNotFound = errors.New("wsm: device not found")

	// ErrQueueFull is returned when the inbound queue is saturated and
	// a message had to be dropped.
	ErrQueueFull = errors.New("wsm: inbound queue full")

	// ErrInvalidPour is returned when an action carries a pour command
	// outside the accepted set.
	ErrInvalidPour = errors.New("wsm: invalid pour command")
)
