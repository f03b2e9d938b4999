package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-vcp/internal/groups"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
	_ "github.com/nerrad567/gray-logic-vcp/migrations"
)

const (
	devA = vcp.DeviceAddress("AA:BB:CC:DD:EE:01")
	devB = vcp.DeviceAddress("AA:BB:CC:DD:EE:02")
)

// fakeVCP records the commands the API issues.
type fakeVCP struct {
	mu sync.Mutex

	running      bool
	refuse       bool
	snapshot     vcp.Snapshot
	withOutputs  map[vcp.DeviceAddress]bool
	groupVolumes map[int32]int
	groupMuted   map[int32]bool

	calls     []string
	joined    []string
	observers []vcp.Observer
	listeners map[vcp.ListenerHandle]vcp.OffsetListener
	next      vcp.ListenerHandle
}

func newFakeVCP() *fakeVCP {
	return &fakeVCP{
		running:      true,
		snapshot:     vcp.Snapshot{Capacity: vcp.MaxStateMachines},
		withOutputs:  make(map[vcp.DeviceAddress]bool),
		groupVolumes: make(map[int32]int),
		groupMuted:   make(map[int32]bool),
		listeners:    make(map[vcp.ListenerHandle]vcp.OffsetListener),
	}
}

func (f *fakeVCP) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeVCP) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeVCP) Connect(d vcp.DeviceAddress) bool {
	if f.refuse {
		return false
	}
	f.record("connect %s", d)
	return true
}

func (f *fakeVCP) Disconnect(d vcp.DeviceAddress) bool {
	if _, ok := f.Device(d); !ok {
		return false
	}
	f.record("disconnect %s", d)
	return true
}

func (f *fakeVCP) GetConnectionState(d vcp.DeviceAddress) vcp.ConnectionState {
	if snap, ok := f.Device(d); ok {
		return snap.State
	}
	return vcp.StateDisconnected
}

func (f *fakeVCP) Snapshot() vcp.Snapshot { return f.snapshot }

func (f *fakeVCP) Device(d vcp.DeviceAddress) (vcp.DeviceSnapshot, bool) {
	for _, s := range f.snapshot.Devices {
		if s.Address == d {
			return s, true
		}
	}
	return vcp.DeviceSnapshot{}, false
}

func (f *fakeVCP) Running() bool { return f.running }

func (f *fakeVCP) SetDeviceVolume(d vcp.DeviceAddress, v int) { f.record("volume %s %d", d, v) }
func (f *fakeVCP) Mute(d vcp.DeviceAddress)                  { f.record("mute %s", d) }
func (f *fakeVCP) Unmute(d vcp.DeviceAddress)                { f.record("unmute %s", d) }

func (f *fakeVCP) SetGroupVolume(g int32, v int) { f.record("group_volume %d %d", g, v) }

func (f *fakeVCP) GetGroupVolume(g int32) int {
	if v, ok := f.groupVolumes[g]; ok {
		return v
	}
	return vcp.UnknownVolume
}

func (f *fakeVCP) GetGroupMute(g int32) bool { return f.groupMuted[g] }
func (f *fakeVCP) MuteGroup(g int32)         { f.record("mute_group %d", g) }
func (f *fakeVCP) UnmuteGroup(g int32)       { f.record("unmute_group %d", g) }

func (f *fakeVCP) OnDeviceJoinedGroup(g int32, d vcp.DeviceAddress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, fmt.Sprintf("%d %s", g, d))
}

func (f *fakeVCP) IsOffsetAvailable(d vcp.DeviceAddress) bool { return f.withOutputs[d] }

func (f *fakeVCP) SetOffset(d vcp.DeviceAddress, id int, v int32) {
	f.record("offset %s %d %d", d, id, v)
}

func (f *fakeVCP) SetOffsetLocation(d vcp.DeviceAddress, id int, loc uint32) {
	f.record("location %s %d %d", d, id, loc)
}

func (f *fakeVCP) SetOffsetDescription(d vcp.DeviceAddress, id int, desc string) {
	f.record("description %s %d %q", d, id, desc)
}

func (f *fakeVCP) AddObserver(o vcp.Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, o)
}

func (f *fakeVCP) RegisterCallback(l vcp.OffsetListener) vcp.ListenerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return 0
	}
	f.next++
	f.listeners[f.next] = l
	return f.next
}

func (f *fakeVCP) UnregisterCallback(h vcp.ListenerHandle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.listeners[h]
	delete(f.listeners, h)
	return ok
}

// testServer creates a Server over a fake service and a real group
// registry backed by a migrated SQLite file.
func testServer(t *testing.T) (*Server, *fakeVCP, *groups.Registry) {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "vcp.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	registry := groups.NewRegistry(groups.NewSQLiteRepository(db.DB))
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	fake := newFakeVCP()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  log,
		Service: fake,
		Groups:  registry,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, fake, registry
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Output: "stdout"}, "test")
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Service: newFakeVCP(), Groups: &groups.Registry{}}},
		{"no service", Deps{Logger: log, Groups: &groups.Registry{}}},
		{"no groups", Deps{Logger: log, Service: newFakeVCP()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.checks = []HealthCheck{{Name: "database", Check: func(context.Context) error { return nil }}}

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	resp := decode(t, w)
	if resp["status"] != "ok" || resp["version"] != "test" || resp["service"] != true {
		t.Errorf("health = %v", resp)
	}
	components, _ := resp["components"].(map[string]any)
	if components["database"] != "ok" {
		t.Errorf("components = %v", resp["components"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	tests := []struct {
		name    string
		running bool
		checks  []HealthCheck
	}{
		{"failing check", true, []HealthCheck{{Name: "mqtt", Check: func(context.Context) error { return errors.New("not connected") }}}},
		{"service stopped", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, fake, _ := testServer(t)
			fake.running = tt.running
			srv.checks = tt.checks

			w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
			}
			if resp := decode(t, w); resp["status"] != "degraded" {
				t.Errorf("status = %v, want degraded", resp["status"])
			}
		})
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	if _, err := uuid.Parse(w.Header().Get("X-Request-ID")); err != nil {
		t.Errorf("X-Request-ID = %q, not a UUID: %v", w.Header().Get("X-Request-ID"), err)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_StartRegistersHub(t *testing.T) {
	srv, fake, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	fake.mu.Lock()
	observers, listeners := len(fake.observers), len(fake.listeners)
	fake.mu.Unlock()
	if observers != 1 || listeners != 1 {
		t.Errorf("observers = %d, listeners = %d, want 1 and 1", observers, listeners)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	fake.mu.Lock()
	listeners = len(fake.listeners)
	fake.mu.Unlock()
	if listeners != 0 {
		t.Errorf("listeners after Close = %d, want 0", listeners)
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	srv, _, _ := testServer(t)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
