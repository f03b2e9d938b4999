package vcp

// OnNativeEvent is the NativeBridge event callback. It enqueues the event on
// the service goroutine and never blocks on processing.
func (s *Service) OnNativeEvent(e NativeEvent) {
	if !s.submit(func() { s.handleNativeEvent(e) }) {
		s.logDebug("native event dropped, service not running", "event", e.String())
	}
}

// OnBondStateChanged is called by the host pairing subsystem.
func (s *Service) OnBondStateChanged(device DeviceAddress, state BondState) {
	if device.IsNull() {
		return
	}
	s.submitOrDrop("bond_state", func() { s.handleBondState(device, state) })
}

// OnConnectionStateBroadcast is called when the host announces a profile
// connection change for device outside this service's own events.
func (s *Service) OnConnectionStateBroadcast(device DeviceAddress, from, to ConnectionState) {
	if device.IsNull() {
		return
	}
	s.submitOrDrop("connection_broadcast", func() { s.handleConnectionBroadcast(device, from, to) })
}

func (s *Service) handleNativeEvent(e NativeEvent) {
	switch e.Type {
	case EventConnectionState:
		s.handleConnectionEvent(e.Device, e.State)
	case EventVolumeState:
		s.onVolumeReport(e)
	case EventDeviceAvailable:
		if e.Device.IsNull() {
			s.logWarn("device available without device ignored")
			return
		}
		s.onDeviceAvailable(e.Device, e.OutputCount)
	case EventOffsetChanged:
		s.onOffsetChanged(e.Device, e.OutputID, e.Value)
	case EventLocationChanged:
		s.onLocationChanged(e.Device, e.OutputID, e.Location)
	case EventDescriptionChanged:
		s.onDescriptionChanged(e.Device, e.OutputID, e.Description)
	default:
		s.logWarn("unknown native event ignored", "type", string(e.Type))
	}
}

// handleConnectionEvent routes a stack connection-state report to the
// device's machine. Stack-initiated connections create a machine on demand.
func (s *Service) handleConnectionEvent(device DeviceAddress, state ConnectionState) {
	if device.IsNull() {
		s.logWarn("connection event without device ignored", "state", state.String())
		return
	}

	m := s.machines.get(device)
	if m == nil {
		if state != StateConnecting && state != StateConnected {
			s.logDebug("connection event for unknown device ignored", "device", device, "state", state.String())
			return
		}
		var err error
		m, _, err = s.machines.getOrCreate(device)
		if err != nil {
			s.logError("cannot track stack-initiated connection", err, "device", device)
			return
		}
		s.logDebug("state machine created for incoming connection", "device", device)
	}

	if !m.onStackState(state) {
		s.logDebug("connection event ignored", "device", device, "state", m.state.String(), "event", state.String())
	}
}

// handleBondState applies a bond change. Removing the bond of a device that
// is still connected disconnects it and deletes the machine once it reaches
// StateDisconnected; a disconnected machine is deleted immediately.
//
// Only unbonded devices are remembered; any other state clears the entry.
func (s *Service) handleBondState(device DeviceAddress, state BondState) {
	if state == BondNone {
		s.unbonded[device] = struct{}{}
	} else {
		delete(s.unbonded, device)
	}
	m := s.machines.get(device)

	if state != BondNone {
		if m != nil && m.removeOnDisconnect {
			s.logInfo("device re-bonded, removal cancelled", "device", device)
			m.removeOnDisconnect = false
		}
		return
	}

	if m == nil {
		s.offsets.clear(device)
		return
	}
	if m.state == StateDisconnected {
		s.forget(device)
		return
	}

	s.logInfo("bond removed, disconnecting device", "device", device, "state", m.state.String())
	m.removeOnDisconnect = true
	if err := m.disconnect(); err != nil {
		s.logError("disconnect after bond removal failed", err, "device", device)
	}
}

// handleConnectionBroadcast deletes a parked machine once the host reports
// the device disconnected and unbonded.
func (s *Service) handleConnectionBroadcast(device DeviceAddress, from, to ConnectionState) {
	if to != StateDisconnected {
		return
	}
	if _, ok := s.unbonded[device]; !ok {
		return
	}

	m := s.machines.get(device)
	if m != nil && m.state != StateDisconnected {
		return
	}
	s.logDebug("unbonded device disconnected", "device", device, "from", from.String())
	s.forget(device)
}
