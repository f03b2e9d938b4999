// Package api provides the HTTP REST API and WebSocket server for vcpd.
//
// It exposes the volume control service (connect, volume, mute, offsets)
// and the group store to operators and dashboards. Commands are accepted
// with 202 and confirmed asynchronously: the WebSocket hub is registered
// with the service as an observer and offset listener and pushes
// device.state_changed, group.volume_changed and offset.changed events.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
