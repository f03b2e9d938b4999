package vcp

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// bridgeCall records one NativeBridge invocation.
type bridgeCall struct {
	Method string
	Device DeviceAddress
	Group  int32
	Output int
	Value  int64
	Text   string
}

// MockBridge implements NativeBridge for testing.
type MockBridge struct {
	mu      sync.Mutex
	calls   []bridgeCall
	onEvent func(NativeEvent)
	fail    map[string]error
}

func NewMockBridge() *MockBridge {
	return &MockBridge{fail: make(map[string]error)}
}

func (b *MockBridge) record(c bridgeCall) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[c.Method]; err != nil {
		return err
	}
	b.calls = append(b.calls, c)
	return nil
}

// FailOn makes every call to method return err.
func (b *MockBridge) FailOn(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[method] = err
}

func (b *MockBridge) Connect(d DeviceAddress) error {
	return b.record(bridgeCall{Method: "Connect", Device: d})
}

func (b *MockBridge) Disconnect(d DeviceAddress) error {
	return b.record(bridgeCall{Method: "Disconnect", Device: d})
}

func (b *MockBridge) SetVolume(d DeviceAddress, v int) error {
	return b.record(bridgeCall{Method: "SetVolume", Device: d, Value: int64(v)})
}

func (b *MockBridge) SetGroupVolume(g int32, v int) error {
	return b.record(bridgeCall{Method: "SetGroupVolume", Group: g, Value: int64(v)})
}

func (b *MockBridge) Mute(d DeviceAddress) error {
	return b.record(bridgeCall{Method: "Mute", Device: d})
}

func (b *MockBridge) Unmute(d DeviceAddress) error {
	return b.record(bridgeCall{Method: "Unmute", Device: d})
}

func (b *MockBridge) MuteGroup(g int32) error {
	return b.record(bridgeCall{Method: "MuteGroup", Group: g})
}

func (b *MockBridge) UnmuteGroup(g int32) error {
	return b.record(bridgeCall{Method: "UnmuteGroup", Group: g})
}

func (b *MockBridge) GetOffset(d DeviceAddress, id int) error {
	return b.record(bridgeCall{Method: "GetOffset", Device: d, Output: id})
}

func (b *MockBridge) SetOffset(d DeviceAddress, id int, v int32) error {
	return b.record(bridgeCall{Method: "SetOffset", Device: d, Output: id, Value: int64(v)})
}

func (b *MockBridge) GetLocation(d DeviceAddress, id int) error {
	return b.record(bridgeCall{Method: "GetLocation", Device: d, Output: id})
}

func (b *MockBridge) SetLocation(d DeviceAddress, id int, loc uint32) error {
	return b.record(bridgeCall{Method: "SetLocation", Device: d, Output: id, Value: int64(loc)})
}

func (b *MockBridge) GetDescription(d DeviceAddress, id int) error {
	return b.record(bridgeCall{Method: "GetDescription", Device: d, Output: id})
}

func (b *MockBridge) SetDescription(d DeviceAddress, id int, desc string) error {
	return b.record(bridgeCall{Method: "SetDescription", Device: d, Output: id, Text: desc})
}

func (b *MockBridge) SetOnEvent(cb func(NativeEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onEvent = cb
}

// Emit delivers a native event to the registered callback.
func (b *MockBridge) Emit(e NativeEvent) {
	b.mu.Lock()
	cb := b.onEvent
	b.mu.Unlock()
	if cb != nil {
		cb(e)
	}
}

// Calls returns recorded calls for method.
func (b *MockBridge) Calls(method string) []bridgeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bridgeCall
	for _, c := range b.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (b *MockBridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// mockGroups implements GroupResolver and ConnectionPolicy.
type mockGroups struct {
	mu        sync.Mutex
	members   map[DeviceAddress]int32
	forbidden map[DeviceAddress]bool
}

func newMockGroups() *mockGroups {
	return &mockGroups{
		members:   make(map[DeviceAddress]int32),
		forbidden: make(map[DeviceAddress]bool),
	}
}

func (g *mockGroups) set(d DeviceAddress, group int32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[d] = group
}

func (g *mockGroups) forbid(d DeviceAddress) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forbidden[d] = true
}

func (g *mockGroups) GroupOf(d DeviceAddress) (int32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	group, ok := g.members[d]
	return group, ok
}

func (g *mockGroups) AllowConnect(d DeviceAddress) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.forbidden[d]
}

// mockHost implements HostAudio.
type mockHost struct {
	mu      sync.Mutex
	max     int
	volumes []int
}

func (h *mockHost) MaxVolume() int { return h.max }

func (h *mockHost) SetVolume(v int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volumes = append(h.volumes, v)
	return nil
}

func (h *mockHost) last() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.volumes) == 0 {
		return 0, false
	}
	return h.volumes[len(h.volumes)-1], true
}

// mockStore implements VolumeStore.
type mockStore struct {
	mu      sync.Mutex
	initial map[int32]int
	saved   map[int32]int
	writes  int

	// gate, when set, holds every save until it is closed.
	gate chan struct{}
}

func (s *mockStore) LoadGroupVolumes() (map[int32]int, error) {
	return s.initial, nil
}

func (s *mockStore) SaveGroupVolume(g int32, v int) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.saved == nil {
		s.saved = make(map[int32]int)
	}
	s.saved[g] = v
	return nil
}

// waitSaved polls until group g holds volume v.
func (s *mockStore) waitSaved(t *testing.T, g int32, v int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got, ok := s.get(g); ok && got == v {
			return
		}
		if time.Now().After(deadline) {
			got, ok := s.get(g)
			t.Fatalf("saved volume for group %d = %d (%t), want %d", g, got, ok, v)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *mockStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *mockStore) get(g int32) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.saved[g]
	return v, ok
}

// recordingListener implements OffsetListener.
type recordingListener struct {
	mu     sync.Mutex
	err    error
	panics bool
	got    []string
}

func (l *recordingListener) OnOffsetChanged(d DeviceAddress, id int, v int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.panics {
		panic("listener exploded")
	}
	l.got = append(l.got, fmt.Sprintf("%s/%d=%d", d, id, v))
	return l.err
}

func (l *recordingListener) received() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

// recordingObserver implements Observer.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	volumes     []string
}

func (o *recordingObserver) OnConnectionStateChanged(d DeviceAddress, from, to ConnectionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, fmt.Sprintf("%s:%s->%s", d, from, to))
}

func (o *recordingObserver) OnGroupVolumeChanged(g int32, v int, autonomous bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volumes = append(o.volumes, fmt.Sprintf("%d=%d/%t", g, v, autonomous))
}

func (o *recordingObserver) snapshot() ([]string, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.transitions...), append([]string(nil), o.volumes...)
}

// addr returns a distinct test device address.
func addr(i int) DeviceAddress {
	return DeviceAddress(fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i))
}

// newTestService starts a service around a fresh MockBridge.
func newTestService(t *testing.T, opts Options) (*Service, *MockBridge) {
	t.Helper()
	bridge := NewMockBridge()
	opts.Bridge = bridge
	s, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if err := s.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(s.Stop)
	return s, bridge
}

// flush waits until everything submitted so far has been processed.
func flush(s *Service) {
	s.GetGroupVolume(0)
}

// connectDevice drives d to StateConnected through stack events.
func connectDevice(t *testing.T, s *Service, b *MockBridge, d DeviceAddress) {
	t.Helper()
	if !s.Connect(d) {
		t.Fatalf("Connect(%s) = false", d)
	}
	b.Emit(NativeEvent{Type: EventConnectionState, Device: d, State: StateConnected})
	if got := s.GetConnectionState(d); got != StateConnected {
		t.Fatalf("GetConnectionState(%s) = %s, want connected", d, got)
	}
}
