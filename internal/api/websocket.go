package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// WebSocket message types.
const (
	WSTypeHello       = "hello"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// Event channels clients can subscribe to.
const (
	ChannelDeviceState = "device.state_changed"
	ChannelGroupVolume = "group.volume_changed"
	ChannelOffset      = "offset.changed"
)

var wsChannels = []string{ChannelDeviceState, ChannelGroupVolume, ChannelOffset}

// WSMessage is the envelope of every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, the devices whose
// events are wanted. An empty device list means every device. Group volume
// events carry no device and ignore the filter.
type WSSubscribePayload struct {
	Channels []string            `json:"channels"`
	Devices  []vcp.DeviceAddress `json:"devices,omitempty"`
}

// DeviceStateEvent is the payload on ChannelDeviceState.
type DeviceStateEvent struct {
	Device vcp.DeviceAddress   `json:"device"`
	From   vcp.ConnectionState `json:"from"`
	To     vcp.ConnectionState `json:"to"`
}

// GroupVolumeEvent is the payload on ChannelGroupVolume.
type GroupVolumeEvent struct {
	Group      int32 `json:"group"`
	Volume     int   `json:"volume"`
	Autonomous bool  `json:"autonomous"`
}

// OffsetEvent is the payload on ChannelOffset.
type OffsetEvent struct {
	Device vcp.DeviceAddress `json:"device"`
	Output int               `json:"output"`
	Value  int32             `json:"value"`
}

var (
	_ vcp.Observer       = (*Hub)(nil)
	_ vcp.OffsetListener = (*Hub)(nil)
)

// Hub fans service events out to WebSocket clients.
//
// It is registered with the service as an observer and an offset listener,
// so its callbacks run on the service goroutine. Publishing never blocks: a
// client whose buffer is full misses the frame.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]deviceFilter
}

// deviceFilter restricts a channel subscription to some devices.
// A nil filter passes every device.
type deviceFilter map[vcp.DeviceAddress]struct{}

func (f deviceFilter) allows(device vcp.DeviceAddress) bool {
	if f == nil || device == "" {
		return true
	}
	_, ok := f[device]
	return ok
}

func newDeviceFilter(devices []vcp.DeviceAddress) deviceFilter {
	if len(devices) == 0 {
		return nil
	}
	f := make(deviceFilter, len(devices))
	for _, d := range devices {
		f[d] = struct{}{}
	}
	return f
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// vcpd listens on a trusted local network
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. The send channel is closed exactly once, by
// whichever call finds the client still registered.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	close(client.send)
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends an event to every client subscribed to channel whose device
// filter admits device. Pass an empty device for events not tied to one.
func (h *Hub) Publish(channel string, device vcp.DeviceAddress, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.wants(channel, device) {
			client.enqueue(data)
		}
	}
}

// OnConnectionStateChanged publishes on ChannelDeviceState.
func (h *Hub) OnConnectionStateChanged(device vcp.DeviceAddress, from, to vcp.ConnectionState) {
	h.Publish(ChannelDeviceState, device, DeviceStateEvent{Device: device, From: from, To: to})
}

// OnGroupVolumeChanged publishes on ChannelGroupVolume.
func (h *Hub) OnGroupVolumeChanged(group int32, volume int, autonomous bool) {
	h.Publish(ChannelGroupVolume, "", GroupVolumeEvent{Group: group, Volume: volume, Autonomous: autonomous})
}

// OnOffsetChanged publishes on ChannelOffset. The hub never asks to be removed.
func (h *Hub) OnOffsetChanged(device vcp.DeviceAddress, outputID int, value int32) error {
	h.Publish(ChannelOffset, device, OffsetEvent{Device: device, Output: outputID, Value: value})
	return nil
}

// handleWebSocket upgrades the request and greets the client with the
// channels it may subscribe to.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		subs: make(map[string]deviceFilter),
	}
	s.hub.Register(client)
	client.reply(WSMessage{Type: WSTypeHello, Payload: map[string]any{
		"channels": wsChannels,
		"version":  s.version,
	}})

	keepalive := newKeepalive(s.wsCfg)
	go client.writeLoop(keepalive)
	go client.readLoop(keepalive, int64(s.wsCfg.MaxMessageSize))
}

// keepalive holds the ping cadence and how long a peer may stay silent.
type keepalive struct {
	ping     time.Duration
	pongWait time.Duration
}

func newKeepalive(cfg config.WebSocketConfig) keepalive {
	return keepalive{
		ping:     time.Duration(cfg.PingInterval) * time.Second,
		pongWait: time.Duration(cfg.PongTimeout) * time.Second,
	}
}

func (k keepalive) readDeadline() time.Time {
	return time.Now().Add(k.ping + k.pongWait)
}

func (c *WSClient) readLoop(k keepalive, limit int64) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(k.readDeadline()) //nolint:errcheck // a failed deadline surfaces on read
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(k.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(k.readDeadline()) //nolint:errcheck // a failed deadline surfaces on read
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop(k keepalive) {
	ticker := time.NewTicker(k.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(k.pongWait)) //nolint:errcheck // write error is checked
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // peer may already be gone
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame.
func (c *WSClient) dispatch(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(WSMessage{Type: WSTypePong, ID: msg.ID})
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &sub) != nil {
			c.fail(msg.ID, "invalid "+msg.Type+" payload")
			return
		}
		for _, ch := range sub.Channels {
			if !slices.Contains(wsChannels, ch) {
				c.fail(msg.ID, "unknown channel: "+ch)
				return
			}
		}
		c.applySubscription(msg.Type == WSTypeSubscribe, sub)
		c.reply(WSMessage{Type: WSTypeResponse, ID: msg.ID, Payload: map[string]any{
			msg.Type + "d": sub.Channels,
		}})
	default:
		c.fail(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) applySubscription(subscribe bool, sub WSSubscribePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range sub.Channels {
		if subscribe {
			c.subs[ch] = newDeviceFilter(sub.Devices)
		} else {
			delete(c.subs, ch)
		}
	}
}

func (c *WSClient) wants(channel string, device vcp.DeviceAddress) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filter, ok := c.subs[channel]
	return ok && filter.allows(device)
}

// enqueue queues a frame without blocking. Called with the hub read lock
// held, so the send channel cannot be closed underneath it.
func (c *WSClient) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// reply queues a frame for this client alone.
func (c *WSClient) reply(msg WSMessage) {
	data, err := encodeFrame(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.enqueue(data)
	}
}

func (c *WSClient) fail(id, message string) {
	c.reply(WSMessage{Type: WSTypeError, ID: id, Payload: map[string]string{"message": message}})
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
