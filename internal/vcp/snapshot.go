package vcp

import "sort"

// Snapshot is a point-in-time copy of the service state.
type Snapshot struct {
	Devices   []DeviceSnapshot `json:"devices"`
	Groups    []GroupSnapshot  `json:"groups"`
	Capacity  int              `json:"capacity"`
	Listeners int              `json:"listeners"`
}

// DeviceSnapshot describes one tracked device.
type DeviceSnapshot struct {
	Address        DeviceAddress      `json:"address"`
	State          ConnectionState    `json:"state"`
	Tracked        bool               `json:"tracked"`
	PendingRemoval bool               `json:"pending_removal,omitempty"`
	Offsets        []OffsetDescriptor `json:"offsets,omitempty"`
}

// GroupSnapshot describes one cached group.
type GroupSnapshot struct {
	ID     int32 `json:"id"`
	Volume int   `json:"volume"`
	Muted  bool  `json:"muted"`
}

// Snapshot returns a copy of every tracked device and cached group.
// Returns an empty snapshot if the service is not running.
func (s *Service) Snapshot() Snapshot {
	return call(s, Snapshot{Capacity: MaxStateMachines}, s.snapshot)
}

// Device returns the snapshot of a single device.
func (s *Service) Device(device DeviceAddress) (DeviceSnapshot, bool) {
	for _, d := range s.Snapshot().Devices {
		if d.Address == device {
			return d, true
		}
	}
	return DeviceSnapshot{}, false
}

func (s *Service) snapshot() Snapshot {
	snap := Snapshot{
		Capacity:  MaxStateMachines,
		Listeners: s.listeners.len(),
	}

	tracked := make(map[DeviceAddress]bool)
	s.machines.forEach(func(m *stateMachine) {
		tracked[m.device] = true
		snap.Devices = append(snap.Devices, DeviceSnapshot{
			Address:        m.device,
			State:          m.state,
			Tracked:        true,
			PendingRemoval: m.removeOnDisconnect,
			Offsets:        s.offsets.copyOf(m.device),
		})
	})
	// Outputs may be announced for a device without a machine.
	for _, d := range s.offsetDevices() {
		if tracked[d] {
			continue
		}
		snap.Devices = append(snap.Devices, DeviceSnapshot{
			Address: d,
			State:   StateDisconnected,
			Offsets: s.offsets.copyOf(d),
		})
	}
	sort.Slice(snap.Devices, func(i, j int) bool { return snap.Devices[i].Address < snap.Devices[j].Address })

	for _, g := range s.volumes.groups() {
		snap.Groups = append(snap.Groups, GroupSnapshot{
			ID:     g,
			Volume: s.volumes.get(g),
			Muted:  s.volumes.isMuted(g),
		})
	}
	return snap
}

// offsetDevices returns devices with offset descriptors, in address order.
func (s *Service) offsetDevices() []DeviceAddress {
	out := make([]DeviceAddress, 0, len(s.offsets.devices))
	for d := range s.offsets.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
