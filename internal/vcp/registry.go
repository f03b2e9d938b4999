package vcp

import "sort"

// machineRegistry is the bounded map from device to state machine.
//
// Capacity exhaustion rejects the new device; existing machines are never
// evicted. Not safe for concurrent use: it is owned by the service goroutine.
type machineRegistry struct {
	machines   map[DeviceAddress]*stateMachine
	capacity   int
	newMachine func(DeviceAddress) *stateMachine
}

// newMachineRegistry creates an empty registry.
func newMachineRegistry(capacity int, newMachine func(DeviceAddress) *stateMachine) *machineRegistry {
	return &machineRegistry{
		machines:   make(map[DeviceAddress]*stateMachine, capacity),
		capacity:   capacity,
		newMachine: newMachine,
	}
}

// get returns the machine for a device, or nil.
func (r *machineRegistry) get(device DeviceAddress) *stateMachine {
	return r.machines[device]
}

// getOrCreate returns the existing machine or registers a new one in
// StateDisconnected. created reports whether a machine was constructed.
func (r *machineRegistry) getOrCreate(device DeviceAddress) (m *stateMachine, created bool, err error) {
	if device.IsNull() {
		return nil, false, ErrInvalidDevice
	}
	if m, ok := r.machines[device]; ok {
		return m, false, nil
	}
	if len(r.machines) >= r.capacity {
		return nil, false, ErrCapacityExceeded
	}
	m = r.newMachine(device)
	r.machines[device] = m
	return m, true, nil
}

// remove discards the mapping. Idempotent.
func (r *machineRegistry) remove(device DeviceAddress) bool {
	if _, ok := r.machines[device]; !ok {
		return false
	}
	delete(r.machines, device)
	return true
}

// forEach calls fn for every machine, in address order, over a snapshot so
// fn may remove entries.
func (r *machineRegistry) forEach(fn func(*stateMachine)) {
	devices := make([]DeviceAddress, 0, len(r.machines))
	for d := range r.machines {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })

	for _, d := range devices {
		if m, ok := r.machines[d]; ok {
			fn(m)
		}
	}
}

// len returns the number of live machines.
func (r *machineRegistry) len() int {
	return len(r.machines)
}
