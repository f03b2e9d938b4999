package vcp

import "errors"

// Public command surface. Every method is safe for concurrent use.
// Failures are logged and reported as false or a "not found" value; none of
// these methods return errors to the caller.

// Connect requests a profile connection to device.
// Returns true if the request was accepted. A new device is rejected when
// MaxStateMachines machines already exist.
func (s *Service) Connect(device DeviceAddress) bool {
	if device.IsNull() {
		s.logWarn("connect rejected", "error", ErrInvalidDevice)
		return false
	}
	return call(s, false, func() bool { return s.connect(device) })
}

func (s *Service) connect(device DeviceAddress) bool {
	if s.policy != nil && !s.policy.AllowConnect(device) {
		s.logWarn("connect rejected", "device", device, "error", ErrConnectionForbidden)
		return false
	}

	m, created, err := s.machines.getOrCreate(device)
	if err != nil {
		s.logError("cannot create state machine", err, "device", device, "live", s.machines.len())
		return false
	}
	if created {
		s.logDebug("state machine created", "device", device)
	}

	if err := m.connect(); err != nil {
		s.logError("connect failed", err, "device", device, "state", m.state.String())
		if created {
			s.machines.remove(device)
		}
		return false
	}
	return true
}

// Disconnect requests a profile disconnection from device.
// Returns false if the device has no state machine or is already
// disconnected. A disconnect already in flight returns true.
func (s *Service) Disconnect(device DeviceAddress) bool {
	if device.IsNull() {
		s.logWarn("disconnect rejected", "error", ErrInvalidDevice)
		return false
	}
	return call(s, false, func() bool {
		m := s.machines.get(device)
		if m == nil {
			s.logWarn("disconnect for device without state machine", "device", device)
			return false
		}
		if err := m.disconnect(); err != nil {
			if errors.Is(err, errAlreadyDisconnected) {
				s.logDebug("disconnect ignored, device already disconnected", "device", device)
				return false
			}
			s.logError("disconnect failed", err, "device", device)
			return false
		}
		return true
	})
}

// GetConnectionState returns the device's connection state, or
// StateDisconnected if it has no state machine.
func (s *Service) GetConnectionState(device DeviceAddress) ConnectionState {
	if device.IsNull() {
		return StateDisconnected
	}
	return call(s, StateDisconnected, func() ConnectionState {
		if m := s.machines.get(device); m != nil {
			return m.state
		}
		return StateDisconnected
	})
}

// GetConnectedDevices returns every device in StateConnected, in address order.
func (s *Service) GetConnectedDevices() []DeviceAddress {
	return s.GetDevicesMatchingConnectionStates(StateConnected)
}

// GetDevicesMatchingConnectionStates returns devices whose state is one of
// states, in address order.
func (s *Service) GetDevicesMatchingConnectionStates(states ...ConnectionState) []DeviceAddress {
	if len(states) == 0 {
		return nil
	}
	return call[[]DeviceAddress](s, nil, func() []DeviceAddress {
		var out []DeviceAddress
		s.machines.forEach(func(m *stateMachine) {
			for _, st := range states {
				if m.state == st {
					out = append(out, m.device)
					return
				}
			}
		})
		return out
	})
}

// SetGroupVolume sets the target volume of a group and pushes it to the
// stack. Volumes outside 0-255 are rejected.
func (s *Service) SetGroupVolume(group int32, volume int) {
	if !validVolume(volume) {
		s.logWarn("set group volume rejected", "group", group, "volume", volume, "error", ErrInvalidVolume)
		return
	}
	s.submitOrDrop("set_group_volume", func() { s.setGroupVolume(group, volume) })
}

// GetGroupVolume returns the cached group volume or UnknownVolume.
func (s *Service) GetGroupVolume(group int32) int {
	return call(s, UnknownVolume, func() int { return s.volumes.get(group) })
}

// GetGroupMute returns the cached mute state of a group.
func (s *Service) GetGroupMute(group int32) bool {
	return call(s, false, func() bool { return s.volumes.isMuted(group) })
}

// SetDeviceVolume sets the volume of a single device.
func (s *Service) SetDeviceVolume(device DeviceAddress, volume int) {
	if device.IsNull() || !validVolume(volume) {
		s.logWarn("set device volume rejected", "device", device, "volume", volume)
		return
	}
	s.submitOrDrop("set_volume", func() {
		if err := s.bridge.SetVolume(device, volume); err != nil {
			s.logError("set device volume failed", err, "device", device)
		}
	})
}

// Mute mutes a device.
func (s *Service) Mute(device DeviceAddress) {
	s.deviceCommand("mute", device, s.bridge.Mute)
}

// Unmute unmutes a device.
func (s *Service) Unmute(device DeviceAddress) {
	s.deviceCommand("unmute", device, s.bridge.Unmute)
}

// MuteGroup mutes every member of a group.
func (s *Service) MuteGroup(group int32) {
	s.submitOrDrop("mute_group", func() {
		s.volumes.setMuted(group, true)
		if err := s.bridge.MuteGroup(group); err != nil {
			s.logError("mute group failed", err, "group", group)
		}
	})
}

// UnmuteGroup unmutes every member of a group.
func (s *Service) UnmuteGroup(group int32) {
	s.submitOrDrop("unmute_group", func() {
		s.volumes.setMuted(group, false)
		if err := s.bridge.UnmuteGroup(group); err != nil {
			s.logError("unmute group failed", err, "group", group)
		}
	})
}

// OnDeviceJoinedGroup applies the cached group volume to a device that just
// joined group, if it is connected.
func (s *Service) OnDeviceJoinedGroup(group int32, device DeviceAddress) {
	if device.IsNull() {
		return
	}
	s.submitOrDrop("device_joined_group", func() { s.onDeviceJoinedGroup(group, device) })
}

// IsOffsetAvailable reports whether device has announced external outputs.
func (s *Service) IsOffsetAvailable(device DeviceAddress) bool {
	return s.NumberOfOffsets(device) > 0
}

// NumberOfOffsets returns how many external outputs device exposes.
func (s *Service) NumberOfOffsets(device DeviceAddress) int {
	if device.IsNull() {
		return 0
	}
	return call(s, 0, func() int { return s.offsets.count(device) })
}

// GetOffsets returns a copy of the device's external output descriptors.
func (s *Service) GetOffsets(device DeviceAddress) []OffsetDescriptor {
	if device.IsNull() {
		return nil
	}
	return call[[]OffsetDescriptor](s, nil, func() []OffsetDescriptor { return s.offsets.copyOf(device) })
}

// SetOffset sets the volume offset of one external output. Nothing is sent
// if the value matches the cached offset.
func (s *Service) SetOffset(device DeviceAddress, outputID int, value int32) {
	if device.IsNull() {
		return
	}
	s.submitOrDrop("set_offset", func() { s.setOffset(device, outputID, value) })
}

// SetOffsetLocation sets the audio location bitmask of one external output.
func (s *Service) SetOffsetLocation(device DeviceAddress, outputID int, location uint32) {
	if device.IsNull() {
		return
	}
	s.submitOrDrop("set_location", func() { s.setOffsetLocation(device, outputID, location) })
}

// SetOffsetDescription sets the description of one external output.
func (s *Service) SetOffsetDescription(device DeviceAddress, outputID int, description string) {
	if device.IsNull() {
		return
	}
	s.submitOrDrop("set_description", func() { s.setOffsetDescription(device, outputID, description) })
}

// RegisterCallback adds an offset listener. The listener immediately
// receives the current offset of every known output. Returns 0 if the
// service is not running.
func (s *Service) RegisterCallback(l OffsetListener) ListenerHandle {
	if l == nil {
		return 0
	}
	return call[ListenerHandle](s, 0, func() ListenerHandle {
		h := s.listeners.add(l)
		s.syncListener(h)
		return h
	})
}

// UnregisterCallback removes an offset listener. Returns false if the
// handle is not registered.
func (s *Service) UnregisterCallback(h ListenerHandle) bool {
	return call(s, false, func() bool { return s.listeners.remove(h) })
}

// syncListener delivers every cached offset to one listener.
func (s *Service) syncListener(h ListenerHandle) {
	logger := s.getLogger()
	for _, device := range s.offsetDevices() {
		for _, d := range s.offsets.copyOf(device) {
			s.listeners.notifyOne(h, device, d.OutputID, d.Value, logger)
		}
	}
}

func (s *Service) deviceCommand(name string, device DeviceAddress, send func(DeviceAddress) error) {
	if device.IsNull() {
		s.logWarn(name+" rejected", "error", ErrInvalidDevice)
		return
	}
	s.submitOrDrop(name, func() {
		if err := send(device); err != nil {
			s.logError(name+" failed", err, "device", device)
		}
	})
}

func (s *Service) submitOrDrop(name string, fn func()) {
	if !s.submit(fn) {
		s.logWarn("command dropped", "command", name, "error", ErrNotRunning)
	}
}
