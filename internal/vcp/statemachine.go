package vcp

import (
	"errors"
	"fmt"
)

// errDisconnectPending is returned when a connect arrives while a disconnect
// is still in flight. The caller retries after the Disconnected transition.
var errDisconnectPending = errors.New("vcp: disconnect in progress")

// errAlreadyDisconnected is returned by disconnect on a machine that has
// nothing to tear down.
var errAlreadyDisconnected = errors.New("vcp: already disconnected")

// stateMachine governs the profile connection lifecycle of one device.
//
// It is driven from two sources: host commands (connect, disconnect) and
// native connection-state events. It never transitions optimistically on a
// failed transport call; it waits for an authoritative event instead.
//
// Not safe for concurrent use. Only the service goroutine touches it.
type stateMachine struct {
	device DeviceAddress
	state  ConnectionState
	bridge NativeBridge

	// removeOnDisconnect is set when the bond was removed while the device
	// was still connected. The machine is deleted on reaching Disconnected.
	removeOnDisconnect bool

	// onTransition is invoked after every state change.
	onTransition func(m *stateMachine, from, to ConnectionState)
}

// newStateMachine creates a machine in StateDisconnected.
func newStateMachine(device DeviceAddress, bridge NativeBridge, onTransition func(*stateMachine, ConnectionState, ConnectionState)) *stateMachine {
	return &stateMachine{
		device:       device,
		state:        StateDisconnected,
		bridge:       bridge,
		onTransition: onTransition,
	}
}

// connect handles a CONNECT command.
func (m *stateMachine) connect() error {
	switch m.state {
	case StateDisconnected:
		if err := m.bridge.Connect(m.device); err != nil {
			return fmt.Errorf("connect %s: %w", m.device, err)
		}
		m.transition(StateConnecting)
		return nil
	case StateConnecting, StateConnected:
		return nil
	default:
		return errDisconnectPending
	}
}

// disconnect handles a DISCONNECT command.
func (m *stateMachine) disconnect() error {
	switch m.state {
	case StateConnecting, StateConnected:
		if err := m.bridge.Disconnect(m.device); err != nil {
			return fmt.Errorf("disconnect %s: %w", m.device, err)
		}
		m.transition(StateDisconnecting)
		return nil
	case StateDisconnecting:
		return nil
	default:
		return errAlreadyDisconnected
	}
}

// onStackState applies a native connection-state event.
// Returns true if the event caused a transition.
func (m *stateMachine) onStackState(to ConnectionState) bool {
	if to == m.state {
		return false
	}

	switch to {
	case StateConnected, StateDisconnected:
		// Authoritative from any state.
	case StateConnecting:
		if m.state != StateDisconnected {
			return false
		}
	case StateDisconnecting:
		if m.state != StateConnected && m.state != StateConnecting {
			return false
		}
	default:
		return false
	}

	m.transition(to)
	return true
}

// transition moves to a new state and notifies the owner.
func (m *stateMachine) transition(to ConnectionState) {
	from := m.state
	m.state = to
	if m.onTransition != nil {
		m.onTransition(m, from, to)
	}
}
