package stack

import (
	"context"
	"sync"
)

// outboxSize bounds the commands waiting for the broker.
const outboxSize = 256

// outbound is one message waiting to be published.
type outbound struct {
	topic   string
	payload []byte
	label   string
}

// outbox publishes queued messages from its own goroutine so callers never
// wait on the broker acknowledgement. Order is preserved.
type outbox struct {
	mqtt  MQTTClient
	queue chan outbound

	// published is called on the outbox goroutine after every attempt.
	published func(msg outbound, err error)

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func newOutbox(client MQTTClient, size int, published func(outbound, error)) *outbox {
	if size <= 0 {
		size = outboxSize
	}
	return &outbox{
		mqtt:      client,
		queue:     make(chan outbound, size),
		published: published,
		done:      make(chan struct{}),
	}
}

// start launches the publishing goroutine. Later calls are no-ops.
func (o *outbox) start(ctx context.Context) {
	o.startOnce.Do(func() {
		o.wg.Add(1)
		go o.run(ctx)
	})
}

// stop waits for the goroutine to exit. Queued messages are discarded.
func (o *outbox) stop() {
	o.stopOnce.Do(func() {
		close(o.done)
		o.wg.Wait()
	})
}

// offer queues msg without blocking.
func (o *outbox) offer(msg outbound) error {
	select {
	case <-o.done:
		return ErrStopped
	default:
	}
	select {
	case o.queue <- msg:
		return nil
	default:
		return ErrOutboxFull
	}
}

func (o *outbox) run(ctx context.Context) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return
		case msg := <-o.queue:
			err := o.mqtt.Publish(msg.topic, msg.payload, commandQoS, false)
			if o.published != nil {
				o.published(msg, err)
			}
		}
	}
}
