package stack

import (
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// TestServiceStaysResponsiveWhileBrokerStalls drives a real service through
// the bridge while every broker publish hangs.
func TestServiceStaysResponsiveWhileBrokerStalls(t *testing.T) {
	b, client := newTestBridge(t, nil)
	host := NewHostAudio(client, 15)
	host.Start(testContext(t))
	t.Cleanup(host.Stop)

	svc, err := vcp.NewService(vcp.Options{Bridge: b, Host: host})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if err := svc.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(svc.Stop)

	release := client.Hold()
	defer release()

	svc.SetGroupVolume(7, 120)
	client.SimulateMessage(EventSubscribeTopic(), EventTopic(vcp.EventVolumeState),
		[]byte(`{"group":8,"volume":100,"autonomous":true}`))

	start := time.Now()
	if got := svc.GetConnectionState(testDevice); got != vcp.StateDisconnected {
		t.Errorf("GetConnectionState() = %s, want disconnected", got)
	}
	if got := svc.GetGroupVolume(8); got != 100 {
		t.Errorf("GetGroupVolume(8) = %d, want 100", got)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("queries took %v while the broker was stalled", elapsed)
	}

	release()
	waitFor(t, "group and host volume publishes", func() bool {
		var group, hostVolume bool
		for _, p := range client.GetPublished() {
			switch p.Topic {
			case CommandTopic(GroupTarget(7)):
				group = true
			case HostAudioTopic():
				hostVolume = true
			}
		}
		return group && hostVolume
	})
}
