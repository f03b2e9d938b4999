package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-vcp/internal/groups"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// VolumeControl is the part of *vcp.Service the API drives.
type VolumeControl interface {
	Connect(device vcp.DeviceAddress) bool
	Disconnect(device vcp.DeviceAddress) bool
	GetConnectionState(device vcp.DeviceAddress) vcp.ConnectionState
	Snapshot() vcp.Snapshot
	Device(device vcp.DeviceAddress) (vcp.DeviceSnapshot, bool)
	Running() bool

	SetDeviceVolume(device vcp.DeviceAddress, volume int)
	Mute(device vcp.DeviceAddress)
	Unmute(device vcp.DeviceAddress)

	SetGroupVolume(group int32, volume int)
	GetGroupVolume(group int32) int
	GetGroupMute(group int32) bool
	MuteGroup(group int32)
	UnmuteGroup(group int32)
	OnDeviceJoinedGroup(group int32, device vcp.DeviceAddress)

	IsOffsetAvailable(device vcp.DeviceAddress) bool
	SetOffset(device vcp.DeviceAddress, outputID int, value int32)
	SetOffsetLocation(device vcp.DeviceAddress, outputID int, location uint32)
	SetOffsetDescription(device vcp.DeviceAddress, outputID int, description string)

	AddObserver(o vcp.Observer)
	RegisterCallback(l vcp.OffsetListener) vcp.ListenerHandle
	UnregisterCallback(h vcp.ListenerHandle) bool
}

// GroupStore is the part of *groups.Registry the API manages.
type GroupStore interface {
	ListGroups() []groups.Group
	GetGroup(id int32) (*groups.Group, error)
	CreateGroup(ctx context.Context, group *groups.Group) error
	DeleteGroup(ctx context.Context, id int32) error
	GroupOf(device vcp.DeviceAddress) (int32, bool)
	AddMember(ctx context.Context, group int32, device vcp.DeviceAddress) (bool, error)
	RemoveMember(ctx context.Context, group int32, device vcp.DeviceAddress) error
	SetPolicy(ctx context.Context, device vcp.DeviceAddress, policy groups.Policy) error
	Policy(device vcp.DeviceAddress) groups.Policy
}

// HealthCheck is a named dependency check reported by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Service VolumeControl
	Groups  GroupStore
	Checks  []HealthCheck
	Version string
}

// Server is the HTTP API server for vcpd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	svc     VolumeControl
	groups  GroupStore
	checks  []HealthCheck
	version string

	server   *http.Server
	hub      *Hub
	listener vcp.ListenerHandle
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("volume control service is required")
	}
	if deps.Groups == nil {
		return nil, fmt.Errorf("group store is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		svc:     deps.Service,
		groups:  deps.Groups,
		checks:  deps.Checks,
		version: deps.Version,
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start registers the hub with the service and begins listening for HTTP
// connections in a background goroutine. The service must already be
// running so the hub receives the initial offset sync.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.svc.AddObserver(s.hub)
	s.listener = s.svc.RegisterCallback(s.hub)
	if s.listener == 0 {
		s.logger.Warn("offset listener not registered, service not running")
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.listener != 0 {
		s.svc.UnregisterCallback(s.listener)
		s.listener = 0
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
