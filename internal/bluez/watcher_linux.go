//go:build linux

package bluez

import (
	"context"
	"fmt"

	dbus "github.com/godbus/dbus/v5"
)

// connectSystemBus opens a private system bus connection so Close does not
// affect other users of the shared one.
func connectSystemBus(ctx context.Context) (*dbus.Conn, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	return conn, nil
}
