package stack

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// stateQueueSize bounds the pending state messages.
const stateQueueSize = 64

// StatePublisher publishes retained state messages for connection
// transitions and group volume changes. It implements vcp.Observer.
//
// Observer callbacks run on the service goroutine, so messages are queued
// and published from a separate goroutine in arrival order. When the queue
// is full the message is dropped; the next change for that target replaces
// the retained value anyway.
type StatePublisher struct {
	mqtt  MQTTClient
	queue chan StateMessage

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewStatePublisher creates a publisher on client. Call Start to begin publishing.
func NewStatePublisher(client MQTTClient, logger Logger) *StatePublisher {
	return &StatePublisher{
		mqtt:   client,
		queue:  make(chan StateMessage, stateQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start launches the publishing goroutine.
func (p *StatePublisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop waits for the goroutine to exit. Queued messages are discarded.
func (p *StatePublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// OnConnectionStateChanged implements vcp.Observer.
func (p *StatePublisher) OnConnectionStateChanged(device vcp.DeviceAddress, from, to vcp.ConnectionState) {
	p.enqueue(StateMessage{
		Target:    DeviceTarget(device),
		Timestamp: time.Now().UTC(),
		Device:    device.String(),
		State:     to.String(),
		Previous:  from.String(),
	})
}

// OnGroupVolumeChanged implements vcp.Observer.
func (p *StatePublisher) OnGroupVolumeChanged(group int32, volume int, autonomous bool) {
	p.enqueue(StateMessage{
		Target:     GroupTarget(group),
		Timestamp:  time.Now().UTC(),
		Group:      &group,
		Volume:     &volume,
		Autonomous: autonomous,
	})
}

func (p *StatePublisher) enqueue(msg StateMessage) {
	select {
	case p.queue <- msg:
	default:
		p.logWarn("state queue full, message dropped", "target", msg.Target)
	}
}

func (p *StatePublisher) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case msg := <-p.queue:
			p.publish(msg)
		}
	}
}

func (p *StatePublisher) publish(msg StateMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logError("failed to marshal state", err)
		return
	}
	if err := p.mqtt.Publish(StateTopic(msg.Target), payload, commandQoS, true); err != nil {
		p.logError("failed to publish state", err)
	}
}

func (p *StatePublisher) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

func (p *StatePublisher) logWarn(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (p *StatePublisher) logError(msg string, err error) {
	if logger := p.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
