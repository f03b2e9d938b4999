package vcp

import (
	"errors"
	"fmt"
)

// ListenerHandle identifies a registered OffsetListener. Zero is never issued.
type ListenerHandle uint64

// listenerRegistry is the ordered set of offset listeners.
// Not safe for concurrent use: it is owned by the service goroutine.
type listenerRegistry struct {
	next    ListenerHandle
	entries []listenerEntry
}

type listenerEntry struct {
	handle   ListenerHandle
	listener OffsetListener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{}
}

func (r *listenerRegistry) add(l OffsetListener) ListenerHandle {
	r.next++
	r.entries = append(r.entries, listenerEntry{handle: r.next, listener: l})
	return r.next
}

func (r *listenerRegistry) remove(h ListenerHandle) bool {
	for i, e := range r.entries {
		if e.handle == h {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *listenerRegistry) len() int {
	return len(r.entries)
}

func (r *listenerRegistry) clear() {
	r.entries = nil
}

// notify delivers an offset change to every listener. A listener returning
// ErrListenerGone is removed; other failures skip that listener only.
func (r *listenerRegistry) notify(device DeviceAddress, outputID int, value int32, logger Logger) {
	// Iterate a copy so removals don't disturb delivery order.
	entries := make([]listenerEntry, len(r.entries))
	copy(entries, r.entries)

	for _, e := range entries {
		r.deliver(e, device, outputID, value, logger)
	}
}

// notifyOne delivers to a single listener, used for the initial sync.
func (r *listenerRegistry) notifyOne(h ListenerHandle, device DeviceAddress, outputID int, value int32, logger Logger) {
	for _, e := range r.entries {
		if e.handle == h {
			r.deliver(e, device, outputID, value, logger)
			return
		}
	}
}

func (r *listenerRegistry) deliver(e listenerEntry, device DeviceAddress, outputID int, value int32, logger Logger) {
	err := safeCall(func() error {
		return e.listener.OnOffsetChanged(device, outputID, value)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrListenerGone):
		r.remove(e.handle)
		if logger != nil {
			logger.Info("offset listener removed", "handle", e.handle)
		}
	default:
		if logger != nil {
			logger.Warn("offset listener failed", "handle", e.handle, "error", err)
		}
	}
}

// safeCall runs fn, converting a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn()
}
