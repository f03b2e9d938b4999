//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Integration tests need a Mosquitto broker at 127.0.0.1:1883.
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998

	if _, err := Connect(cfg); err == nil {
		t.Fatal("Connect() should fail for a refused port")
	}
}

func TestIntegration_Roundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-vcpd-int-pub"
	pub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	cfg.Broker.ClientID = "graylogic-vcpd-int-sub"
	sub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	err = BridgeClient{Client: sub}.Subscribe("graylogic/event/vcp/+", 1, func(topic string, payload []byte) {
		select {
		case received <- topic + " " + string(payload):
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish("graylogic/event/vcp/volume_state", []byte(`{"volume":12}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `graylogic/event/vcp/volume_state {"volume":12}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}
