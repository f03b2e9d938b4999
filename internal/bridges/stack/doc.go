// Package stack implements the Volume Control native bridge for Gray Logic.
//
// The radio is owned by a separate native stack daemon. This package speaks
// to it over MQTT: commands are published as JSON to per-target topics and
// asynchronous events arrive on event topics, where they are decoded into
// vcp.NativeEvent values and handed to the core service.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐          ┌──────────────┐
//	│   vcp.Service   │  calls   │  stack.Bridge   │   MQTT   │ Native stack │
//	│     (core)      │◄────────►│   (this pkg)    │◄────────►│    daemon    │
//	└─────────────────┘  events  └─────────────────┘          └──────────────┘
//
// # Topics
//
//	graylogic/command/vcp/{target}     core → stack   commands
//	graylogic/event/vcp/{type}         stack → core   native events
//	graylogic/host/vcp/bond            host → core    bond state changes
//	graylogic/host/vcp/connection      host → core    connection broadcasts
//	graylogic/command/audio/host       core → host    host output volume
//	graylogic/state/vcp/{target}       core → all     retained state
//	graylogic/health/vcp               core → all     retained health
//
// A target is a device address with ':' encoded as '-' (AA-BB-CC-DD-EE-FF)
// or "group-{id}".
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package stack
