// Package vcp orchestrates Volume Control profile connections for Gray Logic.
//
// It owns, per remote peer device, a bounded set of connection state machines,
// a group volume cache that is reconciled against asynchronous volume reports,
// and a table of external audio output offset descriptors.
//
// # Architecture
//
// All state lives inside a single actor goroutine started by Service.Start.
// Every command, native stack event and host lifecycle event is handed to the
// actor through one FIFO inbox, so the registry, caches and descriptors are
// never touched concurrently:
//
//	caller ──► Service (inbox) ──► stateMachine / groupVolumeCache ──► NativeBridge
//	                 ▲                                                      │
//	                 └──────────────── NativeEvent ◄────────────────────────┘
//
// The NativeBridge is fire-and-forget. Results arrive later as NativeEvents,
// possibly out of order, possibly for devices that were never requested.
// Implementations must queue rather than wait on I/O, since they are called
// on the actor goroutine. Group volumes are saved to the VolumeStore by a
// separate writer goroutine for the same reason.
//
// # Capacity
//
// At most MaxStateMachines devices have a live state machine. A connect for
// an eleventh device is rejected; existing machines are never evicted.
//
// # Errors
//
// No error crosses the public command surface. Failures are logged and turned
// into false, zero or no-op results; callers poll GetConnectionState and
// GetGroupVolume for truth.
//
// # Usage
//
//	svc, err := vcp.NewService(vcp.Options{
//	    Bridge:   bridge,
//	    Groups:   groupRegistry,
//	    Host:     hostAudio,
//	    Logger:   log,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := svc.Start(ctx); err != nil {
//	    return err
//	}
//	defer svc.Stop()
//
//	svc.Connect(addr)
//	svc.SetGroupVolume(7, 120)
package vcp
