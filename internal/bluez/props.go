package bluez

import (
	"strings"
	"sync"

	dbus "github.com/godbus/dbus/v5"

	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// BlueZ D-Bus names.
const (
	bluezService    = "org.bluez"
	deviceIface     = "org.bluez.Device1"
	propsIface      = "org.freedesktop.DBus.Properties"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"

	propertiesChanged = propsIface + ".PropertiesChanged"
	interfacesRemoved = objManagerIface + ".InterfacesRemoved"
)

// Sink receives host lifecycle events. *vcp.Service satisfies it.
type Sink interface {
	OnBondStateChanged(device vcp.DeviceAddress, state vcp.BondState)
	OnConnectionStateBroadcast(device vcp.DeviceAddress, from, to vcp.ConnectionState)
}

// deviceState is the last seen Device1 state for one device.
type deviceState struct {
	bonded    bool
	connected bool
}

// tracker turns Device1 property snapshots into edge events.
type tracker struct {
	mu      sync.Mutex
	prefix  string
	devices map[vcp.DeviceAddress]deviceState
}

func newTracker(adapter string) *tracker {
	prefix := "/org/bluez/"
	if adapter != "" {
		prefix += adapter + "/"
	}
	return &tracker{prefix: prefix, devices: make(map[vcp.DeviceAddress]deviceState)}
}

// deviceFromPath extracts the address of a Device1 object on the watched
// adapter. Paths below the device (services, characteristics) are rejected.
func (t *tracker) deviceFromPath(path dbus.ObjectPath) (vcp.DeviceAddress, bool) {
	p := string(path)
	if !strings.HasPrefix(p, t.prefix) {
		return "", false
	}
	i := strings.LastIndex(p, "/")
	if !strings.HasPrefix(p[i+1:], "dev_") {
		return "", false
	}
	d, err := vcp.ParseDeviceAddress(p)
	if err != nil {
		return "", false
	}
	return d, true
}

// seed records the current state without emitting events.
func (t *tracker) seed(path dbus.ObjectPath, props map[string]dbus.Variant) {
	d, ok := t.deviceFromPath(path)
	if !ok {
		return
	}
	var st deviceState
	st.bonded, _ = bondedFrom(props, false)
	st.connected, _ = boolProp(props, "Connected")

	t.mu.Lock()
	t.devices[d] = st
	t.mu.Unlock()
}

// apply merges changed properties and reports the resulting edges to sink.
func (t *tracker) apply(path dbus.ObjectPath, changed map[string]dbus.Variant, sink Sink) {
	d, ok := t.deviceFromPath(path)
	if !ok {
		return
	}

	t.mu.Lock()
	prev := t.devices[d]
	next := prev
	bondChanged := false
	if bonded, ok := bondedFrom(changed, prev.bonded); ok && bonded != prev.bonded {
		next.bonded = bonded
		bondChanged = true
	}
	connChanged := false
	if connected, ok := boolProp(changed, "Connected"); ok && connected != prev.connected {
		next.connected = connected
		connChanged = true
	}
	t.devices[d] = next
	t.mu.Unlock()

	if bondChanged {
		sink.OnBondStateChanged(d, bondState(next.bonded))
	}
	if connChanged {
		from, to := vcp.StateConnected, vcp.StateDisconnected
		if next.connected {
			from, to = vcp.StateDisconnected, vcp.StateConnected
		}
		sink.OnConnectionStateBroadcast(d, from, to)
	}
}

// remove handles a Device1 object disappearing, which BlueZ does when the
// device is unpaired and forgotten.
func (t *tracker) remove(path dbus.ObjectPath, sink Sink) {
	d, ok := t.deviceFromPath(path)
	if !ok {
		return
	}

	t.mu.Lock()
	prev, known := t.devices[d]
	delete(t.devices, d)
	t.mu.Unlock()

	if !known {
		return
	}
	if prev.connected {
		sink.OnConnectionStateBroadcast(d, vcp.StateConnected, vcp.StateDisconnected)
	}
	sink.OnBondStateChanged(d, vcp.BondNone)
}

// handleSignal dispatches one D-Bus signal.
func (t *tracker) handleSignal(sig *dbus.Signal, sink Sink) {
	if sig == nil {
		return
	}
	switch sig.Name {
	case propertiesChanged:
		if len(sig.Body) < 2 {
			return
		}
		iface, _ := sig.Body[0].(string)
		if iface != deviceIface {
			return
		}
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		if len(changed) == 0 {
			return
		}
		t.apply(sig.Path, changed, sink)
	case interfacesRemoved:
		if len(sig.Body) < 2 {
			return
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].([]string)
		for _, iface := range ifaces {
			if iface == deviceIface {
				t.remove(path, sink)
				return
			}
		}
	}
}

// bondedFrom reads Bonded, falling back to Paired on BlueZ versions that
// predate the Bonded property. Paired is only consulted when Bonded is absent.
func bondedFrom(props map[string]dbus.Variant, current bool) (bool, bool) {
	if b, ok := boolProp(props, "Bonded"); ok {
		return b, true
	}
	if p, ok := boolProp(props, "Paired"); ok {
		return p, true
	}
	return current, false
}

func boolProp(props map[string]dbus.Variant, name string) (bool, bool) {
	v, ok := props[name]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func bondState(bonded bool) vcp.BondState {
	if bonded {
		return vcp.BondBonded
	}
	return vcp.BondNone
}
