package groups

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// storeTimeout bounds writes made through the vcp.VolumeStore interface,
// which carries no context.
const storeTimeout = 5 * time.Second

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches groups, memberships and policies in memory.
//
// The cache is loaded by RefreshCache and kept in sync by the mutating
// methods, which write through to the repository first. All methods are
// safe for concurrent use.
type Registry struct {
	repo Repository

	mu       sync.RWMutex
	groups   map[int32]*Group
	memberOf map[vcp.DeviceAddress]int32
	policies map[vcp.DeviceAddress]Policy

	logger Logger
}

// NewRegistry creates a registry over repo. Call RefreshCache before use.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		groups:   make(map[int32]*Group),
		memberOf: make(map[vcp.DeviceAddress]int32),
		policies: make(map[vcp.DeviceAddress]Policy),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads everything from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	groups, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading groups: %w", err)
	}
	policies, err := r.repo.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("loading device policies: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.groups = make(map[int32]*Group, len(groups))
	r.memberOf = make(map[vcp.DeviceAddress]int32)
	for i := range groups {
		g := groups[i].clone()
		r.groups[g.ID] = g
		for _, d := range g.Members {
			r.memberOf[d] = g.ID
		}
	}
	r.policies = policies

	r.logger.Info("group cache refreshed", "groups", len(groups), "policies", len(policies))
	return nil
}

// GroupOf implements vcp.GroupResolver.
func (r *Registry) GroupOf(device vcp.DeviceAddress) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.memberOf[device]
	return g, ok
}

// AllowConnect implements vcp.ConnectionPolicy. Devices without a stored
// policy are allowed.
func (r *Registry) AllowConnect(device vcp.DeviceAddress) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[device] != PolicyForbidden
}

// LoadGroupVolumes implements vcp.VolumeStore. Groups whose volume was never
// set are omitted.
func (r *Registry) LoadGroupVolumes() (map[int32]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	volumes := make(map[int32]int, len(r.groups))
	for id, g := range r.groups {
		if g.Volume != vcp.UnknownVolume {
			volumes[id] = g.Volume
		}
	}
	return volumes, nil
}

// SaveGroupVolume implements vcp.VolumeStore.
//
// Volumes for groups that only exist in the native stack are kept in memory
// and not persisted.
func (r *Registry) SaveGroupVolume(group int32, volume int) error {
	r.mu.RLock()
	g, known := r.groups[group]
	unchanged := known && g.Volume == volume
	r.mu.RUnlock()

	if !known {
		r.logger.Debug("volume for unregistered group not persisted", "group", group)
		return nil
	}
	if unchanged {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.repo.SaveVolume(ctx, group, volume); err != nil {
		return err
	}

	r.mu.Lock()
	if g, ok := r.groups[group]; ok {
		g.Volume = volume
		g.UpdatedAt = time.Now().UTC()
	}
	r.mu.Unlock()
	return nil
}

// GetGroup returns a copy of one group.
func (r *Registry) GetGroup(id int32) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g.clone(), nil
}

// ListGroups returns copies of all groups ordered by ID.
func (r *Registry) ListGroups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, *g.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateGroup persists a new group and caches it.
func (r *Registry) CreateGroup(ctx context.Context, group *Group) error {
	if err := r.repo.Create(ctx, group); err != nil {
		return err
	}

	stored, err := r.repo.GetByID(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("reloading group: %w", err)
	}

	r.mu.Lock()
	r.groups[stored.ID] = stored
	for _, d := range stored.Members {
		r.moveLocked(d, stored.ID)
	}
	r.mu.Unlock()

	r.logger.Info("group created", "group", stored.ID, "name", stored.Name, "members", len(stored.Members))
	return nil
}

// DeleteGroup removes a group and its memberships.
func (r *Registry) DeleteGroup(ctx context.Context, id int32) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	if g, ok := r.groups[id]; ok {
		for _, d := range g.Members {
			delete(r.memberOf, d)
		}
		delete(r.groups, id)
	}
	r.mu.Unlock()

	r.logger.Info("group deleted", "group", id)
	return nil
}

// AddMember puts device in group, moving it out of any other group.
// It reports whether membership changed.
func (r *Registry) AddMember(ctx context.Context, group int32, device vcp.DeviceAddress) (bool, error) {
	if current, ok := r.GroupOf(device); ok && current == group {
		return false, nil
	}
	if err := r.repo.SetMember(ctx, group, device); err != nil {
		return false, err
	}

	r.mu.Lock()
	r.moveLocked(device, group)
	r.mu.Unlock()

	r.logger.Info("device joined group", "device", device.String(), "group", group)
	return true, nil
}

// RemoveMember takes device out of group.
func (r *Registry) RemoveMember(ctx context.Context, group int32, device vcp.DeviceAddress) error {
	if err := r.repo.RemoveMember(ctx, group, device); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.memberOf, device)
	if g, ok := r.groups[group]; ok {
		g.Members = without(g.Members, device)
	}
	r.mu.Unlock()

	r.logger.Info("device left group", "device", device.String(), "group", group)
	return nil
}

// SetPolicy records the connection policy for a device.
func (r *Registry) SetPolicy(ctx context.Context, device vcp.DeviceAddress, policy Policy) error {
	if err := r.repo.SetPolicy(ctx, device, policy); err != nil {
		return err
	}

	r.mu.Lock()
	r.policies[device] = policy
	r.mu.Unlock()
	return nil
}

// Policy returns the connection policy for a device.
func (r *Registry) Policy(device vcp.DeviceAddress) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[device]; ok {
		return p
	}
	return PolicyAllowed
}

// moveLocked updates the cache for device joining group. r.mu must be held.
func (r *Registry) moveLocked(device vcp.DeviceAddress, group int32) {
	if prev, ok := r.memberOf[device]; ok {
		if g, ok := r.groups[prev]; ok {
			g.Members = without(g.Members, device)
		}
	}
	r.memberOf[device] = group
	if g, ok := r.groups[group]; ok {
		if !slices.Contains(g.Members, device) {
			g.Members = append(g.Members, device)
			slices.Sort(g.Members)
		}
	}
}

func without(list []vcp.DeviceAddress, device vcp.DeviceAddress) []vcp.DeviceAddress {
	return slices.DeleteFunc(list, func(d vcp.DeviceAddress) bool { return d == device })
}
