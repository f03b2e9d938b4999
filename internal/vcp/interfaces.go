package vcp

// NativeBridge issues commands toward the native stack and delivers its
// events back. Every call is fire-and-forget: a nil error means the command
// was handed to the transport, not that it took effect.
type NativeBridge interface {
	Connect(device DeviceAddress) error
	Disconnect(device DeviceAddress) error

	SetVolume(device DeviceAddress, volume int) error
	SetGroupVolume(group int32, volume int) error
	Mute(device DeviceAddress) error
	Unmute(device DeviceAddress) error
	MuteGroup(group int32) error
	UnmuteGroup(group int32) error

	GetOffset(device DeviceAddress, outputID int) error
	SetOffset(device DeviceAddress, outputID int, value int32) error
	GetLocation(device DeviceAddress, outputID int) error
	SetLocation(device DeviceAddress, outputID int, location uint32) error
	GetDescription(device DeviceAddress, outputID int) error
	SetDescription(device DeviceAddress, outputID int, description string) error

	// SetOnEvent registers the single receiver of native events.
	SetOnEvent(callback func(NativeEvent))
}

// GroupResolver maps a device to its logical group.
type GroupResolver interface {
	GroupOf(device DeviceAddress) (int32, bool)
}

// HostAudio is the host's output stream volume.
type HostAudio interface {
	// MaxVolume is the top of the host volume scale.
	MaxVolume() int

	// SetVolume applies a volume in host scale (0..MaxVolume).
	// Called on the service goroutine; it must queue rather than block.
	SetVolume(volume int) error
}

// VolumeStore persists the group volume cache across restarts.
// SaveGroupVolume is called from a dedicated writer goroutine, never the
// service goroutine, and may block on I/O.
type VolumeStore interface {
	LoadGroupVolumes() (map[int32]int, error)
	SaveGroupVolume(group int32, volume int) error
}

// ConnectionPolicy decides whether a device may be connected.
type ConnectionPolicy interface {
	AllowConnect(device DeviceAddress) bool
}

// Observer receives connection transitions and group volume changes.
// Callbacks run on the service goroutine and must not block.
type Observer interface {
	OnConnectionStateChanged(device DeviceAddress, from, to ConnectionState)
	OnGroupVolumeChanged(group int32, volume int, autonomous bool)
}

// OffsetListener receives external output offset changes.
// Returning ErrListenerGone removes the listener; any other error skips it
// for this notification only.
type OffsetListener interface {
	OnOffsetChanged(device DeviceAddress, outputID int, value int32) error
}

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
