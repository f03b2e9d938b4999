package vcp

// offsetRegistry holds external audio output descriptors per device, keyed
// by a dense 1..N output ID range.
// Not safe for concurrent use: it is owned by the service goroutine.
type offsetRegistry struct {
	devices map[DeviceAddress][]OffsetDescriptor
}

func newOffsetRegistry() *offsetRegistry {
	return &offsetRegistry{devices: make(map[DeviceAddress][]OffsetDescriptor)}
}

// init (re)creates exactly n descriptors for IDs 1..n. An existing set of the
// same size is kept. Returns true if the set was replaced.
func (r *offsetRegistry) init(device DeviceAddress, n int) bool {
	if existing, ok := r.devices[device]; ok && len(existing) == n {
		return false
	}
	descs := make([]OffsetDescriptor, n)
	for i := range descs {
		descs[i].OutputID = i + 1
	}
	r.devices[device] = descs
	return true
}

// get returns the descriptor for (device, id), or nil.
func (r *offsetRegistry) get(device DeviceAddress, id int) *OffsetDescriptor {
	descs := r.devices[device]
	if id < 1 || id > len(descs) {
		return nil
	}
	return &descs[id-1]
}

func (r *offsetRegistry) count(device DeviceAddress) int {
	return len(r.devices[device])
}

func (r *offsetRegistry) clear(device DeviceAddress) {
	delete(r.devices, device)
}

// copyOf returns a detached copy of a device's descriptors.
func (r *offsetRegistry) copyOf(device DeviceAddress) []OffsetDescriptor {
	descs := r.devices[device]
	if len(descs) == 0 {
		return nil
	}
	out := make([]OffsetDescriptor, len(descs))
	copy(out, descs)
	return out
}

// onDeviceAvailable (re)initialises descriptors and queries their values.
func (s *Service) onDeviceAvailable(device DeviceAddress, outputCount int) {
	if outputCount <= 0 {
		if outputCount < 0 {
			s.logWarn("negative output count ignored", "device", device, "count", outputCount)
		}
		return
	}
	if s.offsets.init(device, outputCount) {
		s.logInfo("external outputs initialised", "device", device, "count", outputCount)
	}
	s.queryOffsets(device, outputCount)
}

// queryOffsets issues get-offset and get-description for IDs 1..n.
func (s *Service) queryOffsets(device DeviceAddress, n int) {
	for id := 1; id <= n; id++ {
		if err := s.bridge.GetOffset(device, id); err != nil {
			s.logError("get offset failed", err, "device", device, "output", id)
		}
		if err := s.bridge.GetDescription(device, id); err != nil {
			s.logError("get description failed", err, "device", device, "output", id)
		}
	}
}

func (s *Service) onOffsetChanged(device DeviceAddress, id int, value int32) {
	d := s.offsets.get(device, id)
	if d == nil {
		s.logWarn("offset change for unknown output ignored", "device", device, "output", id)
		return
	}
	d.Value = value
	s.listeners.notify(device, id, value, s.getLogger())
}

func (s *Service) onLocationChanged(device DeviceAddress, id int, location uint32) {
	d := s.offsets.get(device, id)
	if d == nil {
		s.logWarn("location change for unknown output ignored", "device", device, "output", id)
		return
	}
	d.Location = location
}

func (s *Service) onDescriptionChanged(device DeviceAddress, id int, description string) {
	d := s.offsets.get(device, id)
	if d == nil {
		s.logWarn("description change for unknown output ignored", "device", device, "output", id)
		return
	}
	d.Description = description
	d.HasDescription = true
}

// setOffset forwards a new offset unless it matches the cached value.
// The cache is updated only when the stack reports the change.
func (s *Service) setOffset(device DeviceAddress, id int, value int32) {
	d := s.offsets.get(device, id)
	if d == nil {
		s.logError("set offset rejected", ErrUnknownOutput, "device", device, "output", id)
		return
	}
	if d.Value == value {
		s.logDebug("offset unchanged, not sent", "device", device, "output", id, "value", value)
		return
	}
	if err := s.bridge.SetOffset(device, id, value); err != nil {
		s.logError("set offset failed", err, "device", device, "output", id)
	}
}

func (s *Service) setOffsetLocation(device DeviceAddress, id int, location uint32) {
	d := s.offsets.get(device, id)
	if d == nil {
		s.logError("set location rejected", ErrUnknownOutput, "device", device, "output", id)
		return
	}
	if d.Location == location {
		return
	}
	if err := s.bridge.SetLocation(device, id, location); err != nil {
		s.logError("set location failed", err, "device", device, "output", id)
	}
}

func (s *Service) setOffsetDescription(device DeviceAddress, id int, description string) {
	d := s.offsets.get(device, id)
	if d == nil {
		s.logError("set description rejected", ErrUnknownOutput, "device", device, "output", id)
		return
	}
	if d.HasDescription && d.Description == description {
		return
	}
	if err := s.bridge.SetDescription(device, id, description); err != nil {
		s.logError("set description failed", err, "device", device, "output", id)
	}
}
