package vcp

import "sort"

// groupVolumeCache holds the target volume and mute state per group.
//
// It is the single source of truth for "what the group should be at".
// Entries are created lazily and never removed automatically: they are the
// user's durable preference, reapplied to members that join or reconnect.
// Not safe for concurrent use: it is owned by the service goroutine.
type groupVolumeCache struct {
	volumes map[int32]int
	muted   map[int32]bool
}

func newGroupVolumeCache() *groupVolumeCache {
	return &groupVolumeCache{
		volumes: make(map[int32]int),
		muted:   make(map[int32]bool),
	}
}

// get returns the cached volume or UnknownVolume.
func (c *groupVolumeCache) get(group int32) int {
	if v, ok := c.volumes[group]; ok {
		return v
	}
	return UnknownVolume
}

// set overwrites the cached volume. Freshest wins.
func (c *groupVolumeCache) set(group int32, volume int) {
	c.volumes[group] = volume
}

func (c *groupVolumeCache) isMuted(group int32) bool {
	return c.muted[group]
}

func (c *groupVolumeCache) setMuted(group int32, muted bool) {
	c.muted[group] = muted
}

// groups returns every group with a cached volume or mute state, sorted.
func (c *groupVolumeCache) groups() []int32 {
	seen := make(map[int32]struct{}, len(c.volumes))
	for g := range c.volumes {
		seen[g] = struct{}{}
	}
	for g := range c.muted {
		seen[g] = struct{}{}
	}
	out := make([]int32, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// setGroupVolume stores a host-initiated target and pushes it to the group.
func (s *Service) setGroupVolume(group int32, volume int) {
	s.volumes.set(group, volume)
	s.persistGroupVolume(group, volume)
	s.notifyGroupVolume(group, volume, false)

	if err := s.bridge.SetGroupVolume(group, volume); err != nil {
		s.logError("set group volume failed", err, "group", group, "volume", volume)
	}
}

// onDeviceJoinedGroup pushes the cached group volume to a newly joined
// member that is already connected.
func (s *Service) onDeviceJoinedGroup(group int32, device DeviceAddress) {
	m := s.machines.get(device)
	if m == nil || m.state != StateConnected {
		return
	}
	volume := s.volumes.get(group)
	if volume == UnknownVolume {
		return
	}

	s.logDebug("applying group volume to joined device", "group", group, "device", device, "volume", volume)
	if err := s.bridge.SetVolume(device, volume); err != nil {
		s.logError("set device volume failed", err, "device", device, "volume", volume)
	}
}

// onVolumeReport reconciles an asynchronous volume report against the cache.
//
// An autonomous (group-scoped) report becomes the new cache value and is
// applied to the host output. A device report either confirms the cached
// target or, when the device is connected, triggers a corrective push of
// the target to that device.
func (s *Service) onVolumeReport(e NativeEvent) {
	if !validVolume(e.Volume) {
		s.logWarn("volume report out of range ignored", "event", e.String())
		return
	}

	if e.Autonomous {
		if !e.Device.IsNull() {
			s.logWarn("autonomous volume report carries a device, ignored", "event", e.String())
			return
		}
		if e.Group == NoGroup {
			s.logWarn("autonomous volume report without group ignored", "event", e.String())
			return
		}
		s.volumes.set(e.Group, e.Volume)
		s.volumes.setMuted(e.Group, e.Muted)
		s.persistGroupVolume(e.Group, e.Volume)
		s.notifyGroupVolume(e.Group, e.Volume, true)
		s.applyHostVolume(e.Volume)
		return
	}

	if e.Device.IsNull() {
		s.onGroupConfirmation(e)
		return
	}

	group, ok := s.resolveGroup(e.Device)
	if !ok {
		s.logError("volume report for device without group", ErrNoGroup, "device", e.Device)
		return
	}

	target := s.volumes.get(group)
	switch {
	case target == UnknownVolume:
		s.logDebug("adopting first reported group volume", "group", group, "device", e.Device, "volume", e.Volume)
		s.volumes.set(group, e.Volume)
		s.persistGroupVolume(group, e.Volume)
		s.notifyGroupVolume(group, e.Volume, false)
	case target == e.Volume:
		s.logDebug("device volume confirmed", "group", group, "device", e.Device, "volume", e.Volume)
	default:
		m := s.machines.get(e.Device)
		if m == nil || m.state != StateConnected {
			s.logDebug("device volume differs but device not connected",
				"device", e.Device, "reported", e.Volume, "target", target)
			return
		}
		s.logInfo("correcting device volume to group target",
			"device", e.Device, "group", group, "reported", e.Volume, "target", target)
		if err := s.bridge.SetVolume(e.Device, target); err != nil {
			s.logError("corrective volume push failed", err, "device", e.Device)
		}
	}
}

// onGroupConfirmation handles a non-autonomous group-scoped report, usually
// the echo of our own set-group-volume.
func (s *Service) onGroupConfirmation(e NativeEvent) {
	if e.Group == NoGroup {
		s.logWarn("volume report without device or group ignored", "event", e.String())
		return
	}
	target := s.volumes.get(e.Group)
	switch target {
	case e.Volume:
		s.logDebug("group volume confirmed", "group", e.Group, "volume", e.Volume)
	case UnknownVolume:
		s.volumes.set(e.Group, e.Volume)
		s.persistGroupVolume(e.Group, e.Volume)
		s.notifyGroupVolume(e.Group, e.Volume, false)
	default:
		s.logDebug("group volume report differs from target",
			"group", e.Group, "reported", e.Volume, "target", target)
	}
}

// reconcileOnConnect pushes the cached group volume to a device that just
// reached StateConnected and refreshes its known external outputs.
func (s *Service) reconcileOnConnect(device DeviceAddress) {
	if group, ok := s.resolveGroup(device); ok {
		s.onDeviceJoinedGroup(group, device)
	}
	s.queryOffsets(device, s.offsets.count(device))
}

// applyHostVolume sets the host output to the scaled native volume.
func (s *Service) applyHostVolume(native int) {
	if s.host == nil {
		return
	}
	hostVolume := ScaleToHost(native, s.host.MaxVolume())
	if err := s.host.SetVolume(hostVolume); err != nil {
		s.logError("set host volume failed", err, "volume", hostVolume)
	}
}

func (s *Service) resolveGroup(device DeviceAddress) (int32, bool) {
	if s.groups == nil {
		return NoGroup, false
	}
	return s.groups.GroupOf(device)
}

// persistGroupVolume hands the value to the volume writer.
func (s *Service) persistGroupVolume(group int32, volume int) {
	if s.writer == nil {
		return
	}
	s.writer.save(group, volume)
}
