package vcp

import "fmt"

// EventType tags a NativeEvent.
type EventType string

// Native stack event types.
const (
	// EventConnectionState reports a device's profile connection state.
	EventConnectionState EventType = "connection_state"

	// EventVolumeState reports a volume/mute level. Device-scoped reports carry
	// Device; group-scoped (autonomous) reports leave Device empty.
	EventVolumeState EventType = "volume_state"

	// EventDeviceAvailable reports that a device is ready and how many
	// external audio outputs it exposes.
	EventDeviceAvailable EventType = "device_available"

	// EventOffsetChanged reports a new offset value for one external output.
	EventOffsetChanged EventType = "offset_changed"

	// EventLocationChanged reports a new location bitmask for one external output.
	EventLocationChanged EventType = "location_changed"

	// EventDescriptionChanged reports a new description for one external output.
	EventDescriptionChanged EventType = "description_changed"
)

// NativeEvent is an asynchronous report from the native stack.
// Only the fields relevant to Type are meaningful.
type NativeEvent struct {
	Type   EventType
	Device DeviceAddress

	// EventConnectionState
	State ConnectionState

	// EventVolumeState
	Group      int32
	Volume     int
	Muted      bool
	Autonomous bool

	// EventDeviceAvailable
	OutputCount int

	// EventOffsetChanged, EventLocationChanged, EventDescriptionChanged
	OutputID    int
	Value       int32
	Location    uint32
	Description string
}

// String returns a compact description for logging.
func (e NativeEvent) String() string {
	switch e.Type {
	case EventConnectionState:
		return fmt.Sprintf("%s device=%s state=%s", e.Type, e.Device, e.State)
	case EventVolumeState:
		return fmt.Sprintf("%s device=%s group=%d volume=%d muted=%t autonomous=%t",
			e.Type, e.Device, e.Group, e.Volume, e.Muted, e.Autonomous)
	case EventDeviceAvailable:
		return fmt.Sprintf("%s device=%s outputs=%d", e.Type, e.Device, e.OutputCount)
	default:
		return fmt.Sprintf("%s device=%s output=%d", e.Type, e.Device, e.OutputID)
	}
}
