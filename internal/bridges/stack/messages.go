package stack

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// MQTT message types exchanged with the native stack daemon and the host.

// Command names sent to the native stack.
const (
	CmdConnect        = "connect"
	CmdDisconnect     = "disconnect"
	CmdSetVolume      = "set_volume"
	CmdSetGroupVolume = "set_group_volume"
	CmdMute           = "mute"
	CmdUnmute         = "unmute"
	CmdMuteGroup      = "mute_group"
	CmdUnmuteGroup    = "unmute_group"
	CmdGetOffset      = "get_offset"
	CmdSetOffset      = "set_offset"
	CmdGetLocation    = "get_location"
	CmdSetLocation    = "set_location"
	CmdGetDescription = "get_description"
	CmdSetDescription = "set_description"
)

// CommandMessage is sent from Core to the native stack.
// Topic: graylogic/command/vcp/{target}
type CommandMessage struct {
	// ID uniquely identifies this command for log correlation.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Device is the target device address, empty for group commands.
	Device string `json:"device,omitempty"`

	// Group is the target group, nil for device commands.
	Group *int32 `json:"group,omitempty"`

	// Command is the command name (e.g., "connect", "set_group_volume").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"volume": 120} for set_volume
	//   {"output_id": 1, "value": -20} for set_offset
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source"`
}

// NewDeviceCommand creates a command addressed to a single device.
func NewDeviceCommand(device vcp.DeviceAddress, command string, params map[string]any, source string) CommandMessage {
	return CommandMessage{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Device:     device.String(),
		Command:    command,
		Parameters: params,
		Source:     source,
	}
}

// NewGroupCommand creates a command addressed to every member of a group.
func NewGroupCommand(group int32, command string, params map[string]any, source string) CommandMessage {
	return CommandMessage{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Group:      &group,
		Command:    command,
		Parameters: params,
		Source:     source,
	}
}

// Target returns the topic target of the command.
func (m *CommandMessage) Target() string {
	if m.Group != nil {
		return GroupTarget(*m.Group)
	}
	return DeviceTarget(vcp.DeviceAddress(m.Device))
}

// MarshalJSON marshals a CommandMessage to JSON.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// EventMessage is sent from the native stack to Core.
// Topic: graylogic/event/vcp/{type}
// Only the fields relevant to Type are set.
type EventMessage struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Device      string    `json:"device,omitempty"`
	Group       *int32    `json:"group,omitempty"`
	State       string    `json:"state,omitempty"`
	Volume      *int      `json:"volume,omitempty"`
	Muted       bool      `json:"muted,omitempty"`
	Autonomous  bool      `json:"autonomous,omitempty"`
	OutputCount int       `json:"output_count,omitempty"`
	OutputID    int       `json:"output_id,omitempty"`
	Value       int32     `json:"value,omitempty"`
	Location    uint32    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
}

// ToNativeEvent validates the message and converts it for the core.
func (m EventMessage) ToNativeEvent() (vcp.NativeEvent, error) {
	e := vcp.NativeEvent{
		Type:        vcp.EventType(m.Type),
		Group:       vcp.NoGroup,
		Muted:       m.Muted,
		Autonomous:  m.Autonomous,
		OutputCount: m.OutputCount,
		OutputID:    m.OutputID,
		Value:       m.Value,
		Location:    m.Location,
		Description: m.Description,
	}

	if m.Device != "" {
		d, err := vcp.ParseDeviceAddress(m.Device)
		if err != nil {
			return vcp.NativeEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		e.Device = d
	}
	if m.Group != nil {
		e.Group = *m.Group
	}

	switch e.Type {
	case vcp.EventConnectionState:
		if e.Device.IsNull() {
			return vcp.NativeEvent{}, fmt.Errorf("%w: connection_state without device", ErrInvalidEvent)
		}
		st, err := vcp.ParseConnectionState(m.State)
		if err != nil {
			return vcp.NativeEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		e.State = st
	case vcp.EventVolumeState:
		if m.Volume == nil {
			return vcp.NativeEvent{}, fmt.Errorf("%w: volume_state without volume", ErrInvalidEvent)
		}
		e.Volume = *m.Volume
	case vcp.EventDeviceAvailable:
		if e.Device.IsNull() {
			return vcp.NativeEvent{}, fmt.Errorf("%w: device_available without device", ErrInvalidEvent)
		}
	case vcp.EventOffsetChanged, vcp.EventLocationChanged, vcp.EventDescriptionChanged:
		if e.Device.IsNull() || m.OutputID < 1 {
			return vcp.NativeEvent{}, fmt.Errorf("%w: %s needs device and output_id", ErrInvalidEvent, m.Type)
		}
	default:
		return vcp.NativeEvent{}, fmt.Errorf("%w: %q", ErrUnknownEventType, m.Type)
	}
	return e, nil
}

// NewEventMessage converts a core event to its wire form.
func NewEventMessage(e vcp.NativeEvent) EventMessage {
	m := EventMessage{
		Type:        string(e.Type),
		Timestamp:   time.Now().UTC(),
		Device:      e.Device.String(),
		Muted:       e.Muted,
		Autonomous:  e.Autonomous,
		OutputCount: e.OutputCount,
		OutputID:    e.OutputID,
		Value:       e.Value,
		Location:    e.Location,
		Description: e.Description,
	}
	if e.Group != vcp.NoGroup {
		g := e.Group
		m.Group = &g
	}
	switch e.Type {
	case vcp.EventConnectionState:
		m.State = e.State.String()
	case vcp.EventVolumeState:
		v := e.Volume
		m.Volume = &v
	}
	return m
}

// BondMessage reports a host pairing change.
// Topic: graylogic/host/vcp/bond
type BondMessage struct {
	Device    string    `json:"device"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionBroadcastMessage reports a host-level profile connection change.
// Topic: graylogic/host/vcp/connection
type ConnectionBroadcastMessage struct {
	Device    string    `json:"device"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// HostVolumeMessage sets the host output stream volume.
// Topic: graylogic/command/audio/host
type HostVolumeMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Volume    int       `json:"volume"`
	Max       int       `json:"max"`
	Source    string    `json:"source"`
}

// StateMessage is published whenever a device connection or group volume changes.
// Topic: graylogic/state/vcp/{target}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Target     string    `json:"target"`
	Timestamp  time.Time `json:"timestamp"`
	Device     string    `json:"device,omitempty"`
	Group      *int32    `json:"group,omitempty"`
	State      string    `json:"state,omitempty"`
	Previous   string    `json:"previous,omitempty"`
	Volume     *int      `json:"volume,omitempty"`
	Autonomous bool      `json:"autonomous,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports operational status.
// Topic: graylogic/health/vcp
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Connected      int               `json:"devices_connected"`
	Capacity       int               `json:"capacity"`
	Reason         string            `json:"reason,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsSent   uint64 `json:"commands_sent"`
	EventsReceived uint64 `json:"events_received"`
	Errors         uint64 `json:"errors"`
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"

	// groupTargetPrefix marks a group target in topics.
	groupTargetPrefix = "group-"
)

// DeviceTarget encodes a device address for use in MQTT topics.
// Example: "AA:BB:CC:DD:EE:FF" → "AA-BB-CC-DD-EE-FF"
func DeviceTarget(device vcp.DeviceAddress) string {
	return strings.ReplaceAll(device.String(), ":", "-")
}

// GroupTarget encodes a group for use in MQTT topics.
// Example: 7 → "group-7"
func GroupTarget(group int32) string {
	return groupTargetPrefix + strconv.FormatInt(int64(group), 10)
}

// ParseTarget decodes a topic target into a device or a group.
func ParseTarget(target string) (vcp.DeviceAddress, int32, error) {
	if rest, ok := strings.CutPrefix(target, groupTargetPrefix); ok {
		g, err := strconv.ParseInt(rest, 10, 32)
		if err != nil {
			return "", vcp.NoGroup, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
		}
		return "", int32(g), nil
	}
	d, err := vcp.ParseDeviceAddress(target)
	if err != nil {
		return "", vcp.NoGroup, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return d, vcp.NoGroup, nil
}

// CommandTopic returns the MQTT topic for commands to a target.
// Example: graylogic/command/vcp/AA-BB-CC-DD-EE-FF
func CommandTopic(target string) string {
	return fmt.Sprintf("%s/command/vcp/%s", TopicPrefix, target)
}

// EventTopic returns the MQTT topic for native events of one type.
// Example: graylogic/event/vcp/volume_state
func EventTopic(eventType vcp.EventType) string {
	return fmt.Sprintf("%s/event/vcp/%s", TopicPrefix, eventType)
}

// EventSubscribeTopic returns the subscription pattern for all native events.
// Example: graylogic/event/vcp/#
func EventSubscribeTopic() string {
	return fmt.Sprintf("%s/event/vcp/#", TopicPrefix)
}

// BondTopic returns the MQTT topic for host bond changes.
func BondTopic() string {
	return fmt.Sprintf("%s/host/vcp/bond", TopicPrefix)
}

// ConnectionBroadcastTopic returns the MQTT topic for host connection broadcasts.
func ConnectionBroadcastTopic() string {
	return fmt.Sprintf("%s/host/vcp/connection", TopicPrefix)
}

// HostAudioTopic returns the MQTT topic for host output volume.
func HostAudioTopic() string {
	return fmt.Sprintf("%s/command/audio/host", TopicPrefix)
}

// StateTopic returns the MQTT topic for retained target state.
// Example: graylogic/state/vcp/group-7
func StateTopic(target string) string {
	return fmt.Sprintf("%s/state/vcp/%s", TopicPrefix, target)
}

// HealthTopic returns the MQTT topic for health status.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/vcp", TopicPrefix)
}
