package stack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// commandQoS is the QoS level for commands and events.
const commandQoS = 1

// defaultSource tags commands issued by this process.
const defaultSource = "vcpd"

// minTopicParts is the minimum segment count of a valid event topic.
const minTopicParts = 4

// Bridge implements vcp.NativeBridge over MQTT.
//
// Commands are serialised as CommandMessage JSON and queued for a
// publishing goroutine, so callers never wait on the broker; native events arriving on the event topics are
// decoded and handed to the callback registered with SetOnEvent.
type Bridge struct {
	mqtt   MQTTClient
	host   HostEventSink
	source string

	onEvent   func(vcp.NativeEvent)
	onEventMu sync.RWMutex

	out *outbox

	// Counters reported by the health reporter.
	commandsSent   atomic.Uint64
	eventsReceived atomic.Uint64
	errorCount     atomic.Uint64

	// Shutdown coordination
	done     chan struct{}
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for messages on a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// HostEventSink receives host lifecycle events decoded from the host topics.
// *vcp.Service satisfies it.
type HostEventSink interface {
	OnBondStateChanged(device vcp.DeviceAddress, state vcp.BondState)
	OnConnectionStateBroadcast(device vcp.DeviceAddress, from, to vcp.ConnectionState)
}

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions contains all dependencies for creating a Bridge.
type BridgeOptions struct {
	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// HostEvents receives bond and connection broadcasts from the host
	// topics. Optional; leave nil when another source (BlueZ) feeds them.
	HostEvents HostEventSink

	// Source tags outgoing commands. Default: "vcpd".
	Source string

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin receiving events.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	source := opts.Source
	if source == "" {
		source = defaultSource
	}

	b := &Bridge{
		mqtt:   opts.MQTTClient,
		host:   opts.HostEvents,
		source: source,
		done:   make(chan struct{}),
		logger: opts.Logger,
	}
	b.out = newOutbox(opts.MQTTClient, outboxSize, b.onPublished)
	return b, nil
}

// Start launches the command publisher and subscribes to the native event
// topic and, if a HostEventSink is configured, the host lifecycle topics.
func (b *Bridge) Start(ctx context.Context) error {
	b.out.start(ctx)

	eventTopic := EventSubscribeTopic()
	if err := b.mqtt.Subscribe(eventTopic, commandQoS, b.handleEventMessage); err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	b.logInfo("subscribed to native events", "topic", eventTopic)

	if b.host != nil {
		if err := b.mqtt.Subscribe(BondTopic(), commandQoS, b.handleBondMessage); err != nil {
			return fmt.Errorf("subscribe to bond changes: %w", err)
		}
		if err := b.mqtt.Subscribe(ConnectionBroadcastTopic(), commandQoS, b.handleConnectionBroadcast); err != nil {
			return fmt.Errorf("subscribe to connection broadcasts: %w", err)
		}
		b.logInfo("subscribed to host lifecycle", "bond", BondTopic(), "connection", ConnectionBroadcastTopic())
	}

	b.logInfo("native stack bridge started")
	return nil
}

// Stop stops delivering events and discards unsent commands.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.SetOnEvent(nil)
		b.out.stop()
		b.logInfo("native stack bridge stopped")
	})
}

// SetOnEvent implements vcp.NativeBridge.
func (b *Bridge) SetOnEvent(callback func(vcp.NativeEvent)) {
	b.onEventMu.Lock()
	b.onEvent = callback
	b.onEventMu.Unlock()
}

// SetHostEvents sets the host lifecycle receiver when it could not be
// passed to NewBridge. It has no effect after Start.
func (b *Bridge) SetHostEvents(sink HostEventSink) {
	b.host = sink
}

// Connect implements vcp.NativeBridge.
func (b *Bridge) Connect(device vcp.DeviceAddress) error {
	return b.sendDevice(device, CmdConnect, nil)
}

// Disconnect implements vcp.NativeBridge.
func (b *Bridge) Disconnect(device vcp.DeviceAddress) error {
	return b.sendDevice(device, CmdDisconnect, nil)
}

// SetVolume implements vcp.NativeBridge.
func (b *Bridge) SetVolume(device vcp.DeviceAddress, volume int) error {
	return b.sendDevice(device, CmdSetVolume, map[string]any{"volume": volume})
}

// SetGroupVolume implements vcp.NativeBridge.
func (b *Bridge) SetGroupVolume(group int32, volume int) error {
	return b.sendGroup(group, CmdSetGroupVolume, map[string]any{"volume": volume})
}

// Mute implements vcp.NativeBridge.
func (b *Bridge) Mute(device vcp.DeviceAddress) error {
	return b.sendDevice(device, CmdMute, nil)
}

// Unmute implements vcp.NativeBridge.
func (b *Bridge) Unmute(device vcp.DeviceAddress) error {
	return b.sendDevice(device, CmdUnmute, nil)
}

// MuteGroup implements vcp.NativeBridge.
func (b *Bridge) MuteGroup(group int32) error {
	return b.sendGroup(group, CmdMuteGroup, nil)
}

// UnmuteGroup implements vcp.NativeBridge.
func (b *Bridge) UnmuteGroup(group int32) error {
	return b.sendGroup(group, CmdUnmuteGroup, nil)
}

// GetOffset implements vcp.NativeBridge.
func (b *Bridge) GetOffset(device vcp.DeviceAddress, outputID int) error {
	return b.sendDevice(device, CmdGetOffset, map[string]any{"output_id": outputID})
}

// SetOffset implements vcp.NativeBridge.
func (b *Bridge) SetOffset(device vcp.DeviceAddress, outputID int, value int32) error {
	return b.sendDevice(device, CmdSetOffset, map[string]any{"output_id": outputID, "value": value})
}

// GetLocation implements vcp.NativeBridge.
func (b *Bridge) GetLocation(device vcp.DeviceAddress, outputID int) error {
	return b.sendDevice(device, CmdGetLocation, map[string]any{"output_id": outputID})
}

// SetLocation implements vcp.NativeBridge.
func (b *Bridge) SetLocation(device vcp.DeviceAddress, outputID int, location uint32) error {
	return b.sendDevice(device, CmdSetLocation, map[string]any{"output_id": outputID, "location": location})
}

// GetDescription implements vcp.NativeBridge.
func (b *Bridge) GetDescription(device vcp.DeviceAddress, outputID int) error {
	return b.sendDevice(device, CmdGetDescription, map[string]any{"output_id": outputID})
}

// SetDescription implements vcp.NativeBridge.
func (b *Bridge) SetDescription(device vcp.DeviceAddress, outputID int, description string) error {
	return b.sendDevice(device, CmdSetDescription, map[string]any{"output_id": outputID, "description": description})
}

func (b *Bridge) sendDevice(device vcp.DeviceAddress, command string, params map[string]any) error {
	return b.send(NewDeviceCommand(device, command, params, b.source))
}

func (b *Bridge) sendGroup(group int32, command string, params map[string]any) error {
	return b.send(NewGroupCommand(group, command, params, b.source))
}

// send queues a command. Fire-and-forget: the result arrives as an event.
// Publish failures are counted and logged by onPublished.
func (b *Bridge) send(cmd CommandMessage) error {
	if !b.mqtt.IsConnected() {
		b.errorCount.Add(1)
		return ErrNotConnected
	}

	payload, err := json.Marshal(&cmd)
	if err != nil {
		b.errorCount.Add(1)
		return fmt.Errorf("marshal %s command: %w", cmd.Command, err)
	}

	msg := outbound{topic: CommandTopic(cmd.Target()), payload: payload, label: cmd.Command}
	if err := b.out.offer(msg); err != nil {
		b.errorCount.Add(1)
		return fmt.Errorf("queue %s command: %w", cmd.Command, err)
	}
	return nil
}

// onPublished runs on the outbox goroutine after each publish attempt.
func (b *Bridge) onPublished(msg outbound, err error) {
	if err != nil {
		b.errorCount.Add(1)
		b.logError("failed to publish "+msg.label+" command", err)
		return
	}
	b.commandsSent.Add(1)
	b.logDebug("command sent", "command", msg.label, "topic", msg.topic)
}

// handleEventMessage decodes a native event and forwards it to the core.
func (b *Bridge) handleEventMessage(topic string, payload []byte) {
	select {
	case <-b.done:
		return
	default:
	}

	var msg EventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.errorCount.Add(1)
		b.logError("failed to parse event", fmt.Errorf("%w: %w", ErrInvalidEvent, err))
		return
	}

	// The topic names the type when the body omits it.
	if msg.Type == "" {
		parts := strings.Split(topic, "/")
		if len(parts) < minTopicParts {
			b.errorCount.Add(1)
			b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
			return
		}
		msg.Type = parts[len(parts)-1]
	}

	event, err := msg.ToNativeEvent()
	if err != nil {
		b.errorCount.Add(1)
		b.logError("rejected native event", err)
		return
	}
	b.eventsReceived.Add(1)

	b.onEventMu.RLock()
	callback := b.onEvent
	b.onEventMu.RUnlock()

	if callback == nil {
		b.logDebug("native event dropped, no receiver", "event", event.String())
		return
	}
	callback(event)
}

// handleBondMessage decodes a host bond change.
func (b *Bridge) handleBondMessage(_ string, payload []byte) {
	var msg BondMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logError("failed to parse bond message", err)
		return
	}
	device, err := vcp.ParseDeviceAddress(msg.Device)
	if err != nil {
		b.logError("invalid bond message device", err)
		return
	}
	state, err := vcp.ParseBondState(msg.State)
	if err != nil {
		b.logError("invalid bond message state", err)
		return
	}
	b.host.OnBondStateChanged(device, state)
}

// handleConnectionBroadcast decodes a host connection broadcast.
func (b *Bridge) handleConnectionBroadcast(_ string, payload []byte) {
	var msg ConnectionBroadcastMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logError("failed to parse connection broadcast", err)
		return
	}
	device, err := vcp.ParseDeviceAddress(msg.Device)
	if err != nil {
		b.logError("invalid connection broadcast device", err)
		return
	}
	from, errFrom := vcp.ParseConnectionState(msg.From)
	to, errTo := vcp.ParseConnectionState(msg.To)
	if err := errors.Join(errFrom, errTo); err != nil {
		b.logError("invalid connection broadcast state", err)
		return
	}
	b.host.OnConnectionStateBroadcast(device, from, to)
}

// BridgeMetrics contains bridge counters for health and API reporting.
type BridgeMetrics struct {
	Connected      bool
	CommandsSent   uint64
	EventsReceived uint64
	Errors         uint64
}

// GetMetrics returns current bridge counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		Connected:      b.mqtt.IsConnected(),
		CommandsSent:   b.commandsSent.Load(),
		EventsReceived: b.eventsReceived.Load(),
		Errors:         b.errorCount.Load(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
