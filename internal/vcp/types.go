package vcp

import (
	"fmt"
	"math"
	"strings"
)

// Profile constants.
const (
	// MaxStateMachines is the hard cap on simultaneously live state machines.
	MaxStateMachines = 10

	// MaxVolume is the top of the profile-native volume range.
	MaxVolume = 255

	// UnknownVolume marks a group whose volume has never been set or reported.
	UnknownVolume = -1

	// NoGroup marks an event or lookup without a group.
	NoGroup int32 = -1
)

// addressOctets is the number of octets in a link-layer address.
const addressOctets = 6

// DeviceAddress identifies a remote peer by its 48-bit link-layer address in
// canonical "AA:BB:CC:DD:EE:FF" form. The zero value is the null device.
type DeviceAddress string

// ParseDeviceAddress normalises an address to canonical form.
// Accepts colon or dash separators, any case, and BlueZ "dev_AA_BB_..." names.
func ParseDeviceAddress(s string) (DeviceAddress, error) {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "dev_"); idx >= 0 {
		s = s[idx+len("dev_"):]
	}
	s = strings.NewReplacer("-", ":", "_", ":").Replace(strings.ToUpper(s))

	parts := strings.Split(s, ":")
	if len(parts) != addressOctets {
		return "", fmt.Errorf("%w: %q", ErrInvalidDevice, s)
	}
	for _, p := range parts {
		if len(p) != 2 || !isHex(p[0]) || !isHex(p[1]) {
			return "", fmt.Errorf("%w: %q", ErrInvalidDevice, s)
		}
	}
	return DeviceAddress(s), nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}

// IsNull reports whether the address is the null device.
func (a DeviceAddress) IsNull() bool {
	return a == ""
}

// String implements fmt.Stringer.
func (a DeviceAddress) String() string {
	return string(a)
}

// ConnectionState is the profile connection state of one device.
type ConnectionState int

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

var stateNames = [...]string{
	StateDisconnected:  "disconnected",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
}

// String implements fmt.Stringer.
func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("unknown(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	st, err := ParseConnectionState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseConnectionState parses the text form of a connection state.
func ParseConnectionState(s string) (ConnectionState, error) {
	for i, name := range stateNames {
		if strings.EqualFold(s, name) {
			return ConnectionState(i), nil
		}
	}
	return StateDisconnected, fmt.Errorf("vcp: unknown connection state %q", s)
}

// BondState is the host pairing state of a device.
type BondState int

// Bond states.
const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

// String implements fmt.Stringer.
func (b BondState) String() string {
	switch b {
	case BondNone:
		return "none"
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	default:
		return fmt.Sprintf("unknown(%d)", int(b))
	}
}

// ParseBondState parses the text form of a bond state.
func ParseBondState(s string) (BondState, error) {
	switch strings.ToLower(s) {
	case "none", "removed":
		return BondNone, nil
	case "bonding":
		return BondBonding, nil
	case "bonded":
		return BondBonded, nil
	default:
		return BondNone, fmt.Errorf("vcp: unknown bond state %q", s)
	}
}

// OffsetDescriptor is the cached state of one external audio output of a device.
type OffsetDescriptor struct {
	OutputID       int    `json:"output_id"`
	Value          int32  `json:"value"`
	Location       uint32 `json:"location"`
	Description    string `json:"description,omitempty"`
	HasDescription bool   `json:"has_description"`
}

// ScaleToHost converts a profile-native volume (0-255) to a host output scale
// of 0..hostMax, rounding to nearest.
func ScaleToHost(native, hostMax int) int {
	return int(math.Round(float64(native) * float64(hostMax) / MaxVolume))
}

// validVolume reports whether v is inside the profile-native range.
func validVolume(v int) bool {
	return v >= 0 && v <= MaxVolume
}
