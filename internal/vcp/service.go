package vcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// defaultInboxSize is the inbox depth when Options.InboxSize is zero.
const defaultInboxSize = 64

// Options configures a Service.
type Options struct {
	// Bridge is the native stack transport. Required.
	Bridge NativeBridge

	// Groups resolves device group membership. Optional; without it device
	// volume reports cannot be reconciled.
	Groups GroupResolver

	// Host receives autonomous volume changes. Optional.
	Host HostAudio

	// Store persists group volumes. Optional.
	Store VolumeStore

	// Policy gates connect commands. Optional; nil allows everything.
	Policy ConnectionPolicy

	// Observers receive state and volume notifications. Optional.
	Observers []Observer

	// Logger is optional structured logger.
	Logger Logger

	// InboxSize is the depth of the command/event queue.
	InboxSize int
}

// Service is the volume control orchestrator.
//
// All state is owned by a single goroutine started by Start. Public methods
// enqueue closures on its inbox; queries wait for the reply. Commands made
// before Start or after Stop are dropped and queries return their "not
// found" value.
type Service struct {
	bridge NativeBridge
	groups GroupResolver
	host   HostAudio
	store  VolumeStore
	policy ConnectionPolicy

	observers   []Observer
	observersMu sync.RWMutex

	// Owned by the service goroutine.
	machines  *machineRegistry
	volumes   *groupVolumeCache
	offsets   *offsetRegistry
	listeners *listenerRegistry
	unbonded  map[DeviceAddress]struct{}

	writer *volumeWriter

	inbox    chan func()
	stopping chan struct{}
	done     chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewService creates a service. Call Start to begin processing.
func NewService(opts Options) (*Service, error) {
	if opts.Bridge == nil {
		return nil, fmt.Errorf("native bridge is required")
	}
	if opts.InboxSize < 0 {
		return nil, fmt.Errorf("inbox size must not be negative")
	}
	inboxSize := opts.InboxSize
	if inboxSize == 0 {
		inboxSize = defaultInboxSize
	}

	s := &Service{
		bridge:    opts.Bridge,
		groups:    opts.Groups,
		host:      opts.Host,
		store:     opts.Store,
		policy:    opts.Policy,
		observers: append([]Observer(nil), opts.Observers...),
		volumes:   newGroupVolumeCache(),
		offsets:   newOffsetRegistry(),
		listeners: newListenerRegistry(),
		unbonded:  make(map[DeviceAddress]struct{}),
		inbox:     make(chan func(), inboxSize),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    opts.Logger,
	}
	if opts.Store != nil {
		s.writer = newVolumeWriter(opts.Store, func(group int32, err error) {
			s.logError("persist group volume failed", err, "group", group)
		})
	}
	s.machines = newMachineRegistry(MaxStateMachines, func(d DeviceAddress) *stateMachine {
		return newStateMachine(d, s.bridge, s.onTransition)
	})
	return s, nil
}

// Start seeds the volume cache, registers for native events and starts the
// service goroutine. It returns once the service accepts commands.
// The service stops when ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	select {
	case <-s.stopping:
		return ErrNotRunning
	default:
	}

	started := false
	s.startOnce.Do(func() {
		s.loadGroupVolumes()
		s.bridge.SetOnEvent(s.OnNativeEvent)

		s.wg.Add(1)
		go s.run(ctx)
		if s.writer != nil {
			s.wg.Add(1)
			go s.writer.run(s.done, &s.wg)
		}
		s.running.Store(true)
		started = true
	})
	if !started {
		return fmt.Errorf("vcp: service already started")
	}

	s.logInfo("volume control service started", "capacity", MaxStateMachines)
	return nil
}

// Stop tears down every state machine, clears the listener registry and
// waits for the service goroutine and pending volume writes to finish.
// Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopping)
		s.wg.Wait()
		s.logInfo("volume control service stopped")
	})
}

// Running reports whether the service accepts commands.
func (s *Service) Running() bool {
	if !s.running.Load() {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// AddObserver registers an observer. Safe at any time.
func (s *Service) AddObserver(o Observer) {
	if o == nil {
		return
	}
	s.observersMu.Lock()
	s.observers = append(s.observers, o)
	s.observersMu.Unlock()
}

// run is the service goroutine.
func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.done)

	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.stopping:
			s.teardown()
			return
		case <-ctx.Done():
			s.teardown()
			return
		}
	}
}

// teardown discards all per-device state. Runs on the service goroutine.
func (s *Service) teardown() {
	s.bridge.SetOnEvent(nil)

	count := s.machines.len()
	s.machines.forEach(func(m *stateMachine) {
		s.machines.remove(m.device)
		s.offsets.clear(m.device)
	})
	s.listeners.clear()

	s.logDebug("state machines torn down", "count", count)
}

// submit enqueues fn on the service goroutine. Returns false if the service
// is not running.
func (s *Service) submit(fn func()) bool {
	if !s.running.Load() {
		return false
	}
	select {
	case <-s.stopping:
		return false
	case <-s.done:
		return false
	default:
	}

	select {
	case s.inbox <- fn:
		return true
	case <-s.stopping:
		return false
	case <-s.done:
		return false
	}
}

// call runs fn on the service goroutine and returns its result, or fallback
// when the service is not running.
func call[T any](s *Service, fallback T, fn func() T) T {
	reply := make(chan T, 1)
	if !s.submit(func() { reply <- fn() }) {
		return fallback
	}
	select {
	case v := <-reply:
		return v
	case <-s.done:
		// The reply may have raced with shutdown.
		select {
		case v := <-reply:
			return v
		default:
			return fallback
		}
	}
}

// loadGroupVolumes seeds the cache from the store before the goroutine starts.
func (s *Service) loadGroupVolumes() {
	if s.store == nil {
		return
	}
	volumes, err := s.store.LoadGroupVolumes()
	if err != nil {
		s.logError("failed to load group volumes", err)
		return
	}
	for group, volume := range volumes {
		if !validVolume(volume) {
			s.logWarn("stored group volume out of range ignored", "group", group, "volume", volume)
			continue
		}
		s.volumes.set(group, volume)
	}
	if len(volumes) > 0 {
		s.logInfo("group volumes restored", "groups", len(volumes))
	}
}

// onTransition is the hook every state machine calls after a state change.
func (s *Service) onTransition(m *stateMachine, from, to ConnectionState) {
	s.logInfo("connection state changed", "device", m.device, "from", from.String(), "to", to.String())
	s.notifyConnectionState(m.device, from, to)

	switch to {
	case StateConnected:
		s.reconcileOnConnect(m.device)
	case StateDisconnected:
		if m.removeOnDisconnect {
			s.forget(m.device)
		}
	}
}

// forget discards a device's machine and offsets.
func (s *Service) forget(device DeviceAddress) {
	if s.machines.remove(device) {
		s.logInfo("state machine removed", "device", device)
	}
	s.offsets.clear(device)
	delete(s.unbonded, device)
}

func (s *Service) notifyConnectionState(device DeviceAddress, from, to ConnectionState) {
	for _, o := range s.snapshotObservers() {
		o.OnConnectionStateChanged(device, from, to)
	}
}

func (s *Service) notifyGroupVolume(group int32, volume int, autonomous bool) {
	for _, o := range s.snapshotObservers() {
		o.OnGroupVolumeChanged(group, volume, autonomous)
	}
}

func (s *Service) snapshotObservers() []Observer {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	if len(s.observers) == 0 {
		return nil
	}
	out := make([]Observer, len(s.observers))
	copy(out, s.observers)
	return out
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Service) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// logInfo logs an info message if logger is set.
func (s *Service) logInfo(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (s *Service) logWarn(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logDebug logs a debug message if logger is set.
func (s *Service) logDebug(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (s *Service) logError(msg string, err error, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
