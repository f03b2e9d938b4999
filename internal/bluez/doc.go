// Package bluez watches the BlueZ daemon on the D-Bus system bus and turns
// org.bluez.Device1 property changes into the host lifecycle events the
// volume control service consumes:
//
//   - Bonded (or Paired on older BlueZ) → OnBondStateChanged
//   - Connected → OnConnectionStateBroadcast
//   - Device1 object removed → disconnected broadcast if needed, then bond none
//
// Only edges are reported. The state present when the watcher starts is
// recorded as the baseline and produces no events.
//
// The watcher is an alternative to the MQTT host topics handled by the stack
// bridge; run one or the other.
package bluez
