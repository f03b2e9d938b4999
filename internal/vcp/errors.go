package vcp

import "errors"

// Domain-specific errors for the volume control core.
// They are logged internally; the public command surface never returns them.
var (
	// ErrCapacityExceeded is returned when the state machine pool is full.
	ErrCapacityExceeded = errors.New("vcp: no resources, state machine capacity exceeded")

	// ErrInvalidDevice is returned for the null device or a malformed address.
	ErrInvalidDevice = errors.New("vcp: invalid device address")

	// ErrInvalidVolume is returned for volumes outside 0-255.
	ErrInvalidVolume = errors.New("vcp: volume out of range")

	// ErrUnknownOutput is returned when no offset descriptor exists for an output ID.
	ErrUnknownOutput = errors.New("vcp: unknown external output")

	// ErrNoGroup is returned when a device cannot be resolved to a group.
	ErrNoGroup = errors.New("vcp: device has no group")

	// ErrConnectionForbidden is returned when policy forbids connecting a device.
	ErrConnectionForbidden = errors.New("vcp: connection forbidden by policy")

	// ErrNotRunning is returned when a command arrives before Start or after Stop.
	ErrNotRunning = errors.New("vcp: service not running")

	// ErrListenerGone is returned by an OffsetListener that can no longer
	// receive notifications. The listener is removed from the registry.
	ErrListenerGone = errors.New("vcp: listener gone")
)
