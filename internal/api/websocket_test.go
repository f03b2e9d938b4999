package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func testClient(hub *Hub, channels ...string) *WSClient {
	client := &WSClient{
		hub:  hub,
		send: make(chan []byte, wsSendBufferSize),
		subs: make(map[string]deviceFilter),
	}
	for _, ch := range channels {
		client.subs[ch] = nil
	}
	hub.Register(client)
	return client
}

func receive(t *testing.T, client *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
		return WSMessage{}
	}
}

func TestHub_PublishToSubscribed(t *testing.T) {
	hub := testHub(t)
	client := testClient(hub, ChannelDeviceState)

	hub.Publish(ChannelDeviceState, devA, map[string]any{"device": string(devA)})

	if msg := receive(t, client); msg.EventType != ChannelDeviceState || msg.Type != WSTypeEvent {
		t.Errorf("msg = %+v", msg)
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := testHub(t)
	client := testClient(hub, ChannelOffset)

	hub.Publish(ChannelDeviceState, devA, map[string]any{"device": string(devA)})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub(t)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}
	client := testClient(hub)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}

	// A second unregister must not close the channel twice.
	hub.Unregister(client)
}

func TestHub_ServiceCallbacks(t *testing.T) {
	hub := testHub(t)
	client := testClient(hub, ChannelDeviceState, ChannelGroupVolume, ChannelOffset)

	hub.OnConnectionStateChanged(devA, vcp.StateConnecting, vcp.StateConnected)
	hub.OnGroupVolumeChanged(3, 120, true)
	if err := hub.OnOffsetChanged(devB, 2, -40); err != nil {
		t.Fatalf("OnOffsetChanged() error = %v", err)
	}

	tests := []struct {
		channel string
		want    map[string]any
	}{
		{ChannelDeviceState, map[string]any{"device": string(devA), "from": "connecting", "to": "connected"}},
		{ChannelGroupVolume, map[string]any{"group": float64(3), "volume": float64(120), "autonomous": true}},
		{ChannelOffset, map[string]any{"device": string(devB), "output": float64(2), "value": float64(-40)}},
	}
	for _, tt := range tests {
		msg := receive(t, client)
		if msg.EventType != tt.channel {
			t.Errorf("event_type = %q, want %q", msg.EventType, tt.channel)
			continue
		}
		payload, _ := msg.Payload.(map[string]any)
		for k, v := range tt.want {
			if payload[k] != v {
				t.Errorf("%s payload[%s] = %v, want %v", tt.channel, k, payload[k], v)
			}
		}
	}
}

func TestHub_FullBufferDropsMessage(t *testing.T) {
	hub := testHub(t)
	client := &WSClient{hub: hub, send: make(chan []byte, 1), subs: map[string]deviceFilter{ChannelOffset: nil}}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		hub.OnOffsetChanged(devA, 1, 1) //nolint:errcheck // always nil
		hub.OnOffsetChanged(devA, 1, 2) //nolint:errcheck // always nil
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full client buffer")
	}
	if len(client.send) != 1 {
		t.Errorf("buffered = %d, want 1", len(client.send))
	}
}

func TestHub_DeviceFilter(t *testing.T) {
	hub := testHub(t)
	client := testClient(hub)
	client.applySubscription(true, WSSubscribePayload{
		Channels: []string{ChannelDeviceState, ChannelGroupVolume},
		Devices:  []vcp.DeviceAddress{devB},
	})

	hub.OnConnectionStateChanged(devA, vcp.StateDisconnected, vcp.StateConnecting)
	hub.OnConnectionStateChanged(devB, vcp.StateDisconnected, vcp.StateConnecting)
	hub.OnGroupVolumeChanged(1, 10, false)

	if msg := receive(t, client); msg.EventType != ChannelDeviceState {
		t.Fatalf("first event = %+v", msg)
	} else if payload, _ := msg.Payload.(map[string]any); payload["device"] != string(devB) {
		t.Errorf("filtered device event = %v, want %s only", payload, devB)
	}
	if msg := receive(t, client); msg.EventType != ChannelGroupVolume {
		t.Errorf("group events ignore the device filter, got %+v", msg)
	}
	if len(client.send) != 0 {
		t.Errorf("unexpected extra frames: %d", len(client.send))
	}

	client.applySubscription(false, WSSubscribePayload{Channels: []string{ChannelDeviceState}})
	if client.wants(ChannelDeviceState, devB) {
		t.Error("unsubscribed channel still wanted")
	}
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	read := func() WSMessage {
		t.Helper()
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatal(err)
		}
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != WSTypeHello {
		t.Fatalf("first frame = %+v, want hello", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v", msg)
	}

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "s1",
		Payload: WSSubscribePayload{Channels: []string{ChannelOffset}},
	}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != WSTypeResponse || msg.ID != "s1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	if err := srv.Hub().OnOffsetChanged(devA, 1, -12); err != nil {
		t.Fatal(err)
	}
	msg := read()
	if msg.EventType != ChannelOffset {
		t.Fatalf("event = %+v", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["device"] != string(devA) || payload["value"] != float64(-12) {
		t.Errorf("payload = %v", payload)
	}

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "s2",
		Payload: WSSubscribePayload{Channels: []string{"device.removed"}},
	}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != WSTypeError || msg.ID != "s2" {
		t.Errorf("unknown channel reply = %+v", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "bogus", ID: "b1"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != WSTypeError || msg.ID != "b1" {
		t.Errorf("unknown type reply = %+v", msg)
	}
}
