//go:build !linux

package bluez

import (
	"context"

	dbus "github.com/godbus/dbus/v5"
)

func connectSystemBus(_ context.Context) (*dbus.Conn, error) {
	return nil, ErrUnsupported
}
