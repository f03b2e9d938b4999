package vcp

import (
	"errors"
	"testing"
)

func newRecordedMachine(b NativeBridge) (*stateMachine, *[]string) {
	var log []string
	m := newStateMachine(addr(1), b, func(_ *stateMachine, from, to ConnectionState) {
		log = append(log, from.String()+"->"+to.String())
	})
	return m, &log
}

func TestStateMachineCommands(t *testing.T) {
	b := NewMockBridge()
	m, log := newRecordedMachine(b)

	if m.state != StateDisconnected {
		t.Fatalf("initial state = %s", m.state)
	}
	if err := m.disconnect(); !errors.Is(err, errAlreadyDisconnected) {
		t.Errorf("disconnect() from Disconnected = %v, want errAlreadyDisconnected", err)
	}
	if n := len(b.Calls("Disconnect")); n != 0 {
		t.Errorf("Disconnect calls = %d, want 0", n)
	}

	if err := m.connect(); err != nil {
		t.Fatalf("connect() = %v", err)
	}
	if err := m.connect(); err != nil {
		t.Errorf("connect() from Connecting = %v", err)
	}
	if n := len(b.Calls("Connect")); n != 1 {
		t.Errorf("Connect calls = %d, want 1", n)
	}

	// DISCONNECT while still connecting aborts the attempt.
	if err := m.disconnect(); err != nil {
		t.Fatalf("disconnect() = %v", err)
	}
	if m.state != StateDisconnecting {
		t.Fatalf("state = %s, want disconnecting", m.state)
	}
	if err := m.connect(); !errors.Is(err, errDisconnectPending) {
		t.Errorf("connect() while disconnecting = %v, want errDisconnectPending", err)
	}

	want := []string{"disconnected->connecting", "connecting->disconnecting"}
	if len(*log) != len(want) {
		t.Fatalf("transitions = %v, want %v", *log, want)
	}
	for i := range want {
		if (*log)[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, (*log)[i], want[i])
		}
	}
}

func TestStateMachineSendFailureKeepsState(t *testing.T) {
	b := NewMockBridge()
	b.FailOn("Connect", errors.New("busy"))
	b.FailOn("Disconnect", errors.New("busy"))
	m, log := newRecordedMachine(b)

	if err := m.connect(); err == nil {
		t.Fatal("connect() should fail")
	}
	if m.state != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.state)
	}

	m.onStackState(StateConnected)
	if err := m.disconnect(); err == nil {
		t.Fatal("disconnect() should fail")
	}
	if m.state != StateConnected {
		t.Errorf("state = %s, want connected", m.state)
	}
	if len(*log) != 1 {
		t.Errorf("transitions = %v, want one", *log)
	}
}

func TestStateMachineStackEvents(t *testing.T) {
	tests := []struct {
		name    string
		from    ConnectionState
		event   ConnectionState
		want    ConnectionState
		changed bool
	}{
		{"disconnected to connecting", StateDisconnected, StateConnecting, StateConnecting, true},
		{"disconnected to connected", StateDisconnected, StateConnected, StateConnected, true},
		{"disconnected ignores disconnecting", StateDisconnected, StateDisconnecting, StateDisconnected, false},
		{"disconnected duplicate", StateDisconnected, StateDisconnected, StateDisconnected, false},
		{"connecting to connected", StateConnecting, StateConnected, StateConnected, true},
		{"connecting to disconnected", StateConnecting, StateDisconnected, StateDisconnected, true},
		{"connecting to disconnecting", StateConnecting, StateDisconnecting, StateDisconnecting, true},
		{"connected unsolicited disconnect", StateConnected, StateDisconnected, StateDisconnected, true},
		{"connected to disconnecting", StateConnected, StateDisconnecting, StateDisconnecting, true},
		{"connected ignores connecting", StateConnected, StateConnecting, StateConnected, false},
		{"disconnecting to disconnected", StateDisconnecting, StateDisconnected, StateDisconnected, true},
		{"disconnecting to connected", StateDisconnecting, StateConnected, StateConnected, true},
		{"disconnecting ignores connecting", StateDisconnecting, StateConnecting, StateDisconnecting, false},
		{"unknown state ignored", StateConnected, ConnectionState(9), StateConnected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newStateMachine(addr(1), NewMockBridge(), nil)
			m.state = tt.from

			if got := m.onStackState(tt.event); got != tt.changed {
				t.Errorf("onStackState() = %t, want %t", got, tt.changed)
			}
			if m.state != tt.want {
				t.Errorf("state = %s, want %s", m.state, tt.want)
			}
		})
	}
}
