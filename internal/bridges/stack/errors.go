package stack

import "errors"

// Domain errors for the native stack bridge.
var (
	// ErrNotConnected is returned when a command is sent while the MQTT
	// client is disconnected.
	ErrNotConnected = errors.New("stack: not connected to broker")

	// ErrInvalidEvent is returned when an event message cannot be decoded.
	ErrInvalidEvent = errors.New("stack: invalid event message")

	// ErrUnknownEventType is returned for an event type this bridge does not handle.
	ErrUnknownEventType = errors.New("stack: unknown event type")

	// ErrInvalidTarget is returned when a topic target cannot be parsed.
	ErrInvalidTarget = errors.New("stack: invalid topic target")

	// ErrOutboxFull is returned when too many commands are waiting for the broker.
	ErrOutboxFull = errors.New("stack: outbound queue full")

	// ErrStopped is returned when a command is sent after Stop.
	ErrStopped = errors.New("stack: stopped")
)
