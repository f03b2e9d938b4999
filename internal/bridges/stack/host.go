package stack

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// defaultHostMaxVolume is the host stream scale when none is configured.
const defaultHostMaxVolume = 15

// hostQueueSize bounds the host volume messages waiting for the broker.
const hostQueueSize = 16

// HostAudio publishes host output volume changes over MQTT.
// It implements vcp.HostAudio. Call Start before setting volumes.
type HostAudio struct {
	mqtt   MQTTClient
	max    int
	source string
	out    *outbox

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHostAudio creates a host audio sink with the given volume scale.
func NewHostAudio(client MQTTClient, maxVolume int) *HostAudio {
	if maxVolume <= 0 {
		maxVolume = defaultHostMaxVolume
	}
	h := &HostAudio{mqtt: client, max: maxVolume, source: defaultSource}
	h.out = newOutbox(client, hostQueueSize, h.onPublished)
	return h
}

// Start launches the publishing goroutine.
func (h *HostAudio) Start(ctx context.Context) {
	h.out.start(ctx)
}

// Stop waits for the publishing goroutine to exit.
func (h *HostAudio) Stop() {
	h.out.stop()
}

// SetLogger sets the logger for publish failures.
func (h *HostAudio) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// MaxVolume implements vcp.HostAudio.
func (h *HostAudio) MaxVolume() int {
	return h.max
}

// SetVolume implements vcp.HostAudio. The message is queued; it does not
// wait for the broker.
func (h *HostAudio) SetVolume(volume int) error {
	if volume < 0 || volume > h.max {
		return fmt.Errorf("host volume %d outside 0-%d", volume, h.max)
	}
	if !h.mqtt.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(HostVolumeMessage{
		Timestamp: time.Now().UTC(),
		Volume:    volume,
		Max:       h.max,
		Source:    h.source,
	})
	if err != nil {
		return fmt.Errorf("marshal host volume: %w", err)
	}
	return h.out.offer(outbound{topic: HostAudioTopic(), payload: payload, label: "host volume"})
}

func (h *HostAudio) onPublished(msg outbound, err error) {
	if err == nil {
		return
	}
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Error("failed to publish "+msg.label, "error", err)
	}
}
