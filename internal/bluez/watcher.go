package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync"

	dbus "github.com/godbus/dbus/v5"
)

// signalBuffer is the D-Bus signal channel depth.
const signalBuffer = 32

// ErrUnsupported is returned by Start on platforms without BlueZ.
var ErrUnsupported = errors.New("bluez: not supported on this platform")

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config configures a Watcher.
type Config struct {
	// Adapter limits the watch to one controller, e.g. "hci0". Empty watches all.
	Adapter string

	// Sink receives bond and connection changes. Required.
	Sink Sink

	// Logger is optional.
	Logger Logger
}

// Watcher follows BlueZ Device1 properties on the system bus and reports
// bonding and connection edges to its Sink.
type Watcher struct {
	sink    Sink
	tracker *tracker
	logger  Logger

	conn    *dbus.Conn
	signals chan *dbus.Signal

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWatcher creates a watcher. Call Start to connect to the bus.
func NewWatcher(cfg Config) (*Watcher, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	return &Watcher{
		sink:    cfg.Sink,
		tracker: newTracker(cfg.Adapter),
		logger:  cfg.Logger,
		signals: make(chan *dbus.Signal, signalBuffer),
		done:    make(chan struct{}),
	}, nil
}

// Start connects to the system bus, records the current device state and
// begins delivering changes. It returns ErrUnsupported off Linux.
func (w *Watcher) Start(ctx context.Context) error {
	conn, err := connectSystemBus(ctx)
	if err != nil {
		return err
	}
	w.conn = conn

	if err := w.subscribe(); err != nil {
		conn.Close() //nolint:errcheck // best effort cleanup on error path
		return err
	}

	if err := w.prime(); err != nil {
		// Changes still arrive; only the baseline is missing.
		w.logWarn("bluez initial device scan failed", "error", err)
	}

	w.wg.Add(1)
	go w.run(ctx)

	w.logInfo("bluez watcher started")
	return nil
}

// Stop disconnects from the bus. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.conn != nil {
			w.conn.RemoveSignal(w.signals)
			w.conn.Close() //nolint:errcheck // nothing useful to do on shutdown
		}
		w.wg.Wait()
		w.logInfo("bluez watcher stopped")
	})
}

func (w *Watcher) subscribe() error {
	if err := w.conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, deviceIface),
	); err != nil {
		return fmt.Errorf("bluez: match PropertiesChanged: %w", err)
	}
	if err := w.conn.AddMatchSignal(
		dbus.WithMatchInterface(objManagerIface),
		dbus.WithMatchMember("InterfacesRemoved"),
	); err != nil {
		return fmt.Errorf("bluez: match InterfacesRemoved: %w", err)
	}
	w.conn.Signal(w.signals)
	return nil
}

// prime seeds the tracker from GetManagedObjects.
func (w *Watcher) prime() error {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := w.conn.Object(bluezService, dbus.ObjectPath("/"))
	if err := obj.Call(objManagerIface+".GetManagedObjects", 0).Store(&objs); err != nil {
		return fmt.Errorf("bluez: GetManagedObjects: %w", err)
	}

	n := 0
	for path, ifaces := range objs {
		if props, ok := ifaces[deviceIface]; ok {
			w.tracker.seed(path, props)
			n++
		}
	}
	w.logDebug("bluez devices discovered", "count", n)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case sig, ok := <-w.signals:
			if !ok {
				return
			}
			w.tracker.handleSignal(sig, w.sink)
		}
	}
}

func (w *Watcher) logInfo(msg string, keysAndValues ...any) {
	if w.logger != nil {
		w.logger.Info(msg, keysAndValues...)
	}
}

func (w *Watcher) logWarn(msg string, keysAndValues ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, keysAndValues...)
	}
}

func (w *Watcher) logDebug(msg string, keysAndValues ...any) {
	if w.logger != nil {
		w.logger.Debug(msg, keysAndValues...)
	}
}
