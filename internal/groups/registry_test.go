package groups

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// Compile-time checks that Registry serves the core service.
var (
	_ vcp.GroupResolver    = (*Registry)(nil)
	_ vcp.VolumeStore      = (*Registry)(nil)
	_ vcp.ConnectionPolicy = (*Registry)(nil)
)

func setupTestRegistry(t *testing.T) (*Registry, *SQLiteRepository) {
	t.Helper()
	repo := setupTestRepo(t)
	reg := NewRegistry(repo)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	return reg, repo
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, &Group{ID: 1, Name: "Lounge", Volume: 90, Members: []vcp.DeviceAddress{devA}}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, &Group{ID: 2, Name: "Hall", Volume: vcp.UnknownVolume}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.SetPolicy(ctx, devB, PolicyForbidden); err != nil {
		t.Fatalf("SetPolicy() error = %v", err)
	}

	reg := NewRegistry(repo)
	if _, ok := reg.GroupOf(devA); ok {
		t.Error("GroupOf() before refresh should miss")
	}
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	if g, ok := reg.GroupOf(devA); !ok || g != 1 {
		t.Errorf("GroupOf(devA) = %d, %v", g, ok)
	}
	if _, ok := reg.GroupOf(devC); ok {
		t.Error("GroupOf(devC) should miss")
	}
	if reg.AllowConnect(devB) {
		t.Error("AllowConnect(devB) should be false")
	}
	if !reg.AllowConnect(devC) {
		t.Error("AllowConnect() without policy should be true")
	}

	volumes, err := reg.LoadGroupVolumes()
	if err != nil {
		t.Fatalf("LoadGroupVolumes() error = %v", err)
	}
	if want := map[int32]int{1: 90}; !reflect.DeepEqual(volumes, want) {
		t.Errorf("LoadGroupVolumes() = %v, want %v", volumes, want)
	}
}

func TestRegistry_SaveGroupVolume(t *testing.T) {
	reg, repo := setupTestRegistry(t)
	ctx := context.Background()

	if err := reg.CreateGroup(ctx, &Group{ID: 4, Name: "Office", Volume: vcp.UnknownVolume}); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	if err := reg.SaveGroupVolume(4, 77); err != nil {
		t.Fatalf("SaveGroupVolume() error = %v", err)
	}
	stored, err := repo.GetByID(ctx, 4)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Volume != 77 {
		t.Errorf("stored volume = %d, want 77", stored.Volume)
	}
	cached, err := reg.GetGroup(4)
	if err != nil || cached.Volume != 77 {
		t.Errorf("cached = %+v, %v", cached, err)
	}

	// Groups the store does not know about are accepted and not persisted.
	if err := reg.SaveGroupVolume(42, 10); err != nil {
		t.Errorf("SaveGroupVolume(unregistered) error = %v", err)
	}
	if _, err := reg.GetGroup(42); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("GetGroup(42) error = %v", err)
	}
}

func TestRegistry_Membership(t *testing.T) {
	reg, repo := setupTestRegistry(t)
	ctx := context.Background()

	for _, g := range []*Group{
		{ID: 1, Name: "Lounge", Volume: vcp.UnknownVolume, Members: []vcp.DeviceAddress{devA, devB}},
		{ID: 2, Name: "Kitchen", Volume: vcp.UnknownVolume},
	} {
		if err := reg.CreateGroup(ctx, g); err != nil {
			t.Fatalf("CreateGroup() error = %v", err)
		}
	}

	changed, err := reg.AddMember(ctx, 1, devA)
	if err != nil || changed {
		t.Errorf("AddMember(same group) = %v, %v; want false, nil", changed, err)
	}

	changed, err = reg.AddMember(ctx, 2, devA)
	if err != nil || !changed {
		t.Fatalf("AddMember(move) = %v, %v", changed, err)
	}
	if g, _ := reg.GroupOf(devA); g != 2 {
		t.Errorf("GroupOf(devA) = %d, want 2", g)
	}
	lounge, _ := reg.GetGroup(1)
	if !reflect.DeepEqual(lounge.Members, []vcp.DeviceAddress{devB}) {
		t.Errorf("lounge members = %v", lounge.Members)
	}

	if _, err := reg.AddMember(ctx, 7, devC); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("AddMember(unknown group) error = %v", err)
	}

	if err := reg.RemoveMember(ctx, 1, devB); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	if _, ok := reg.GroupOf(devB); ok {
		t.Error("devB should have no group")
	}

	// The cache matches what a fresh load sees.
	fresh := NewRegistry(repo)
	if err := fresh.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if !reflect.DeepEqual(membersByID(fresh.ListGroups()), membersByID(reg.ListGroups())) {
		t.Errorf("fresh = %v, cached = %v", membersByID(fresh.ListGroups()), membersByID(reg.ListGroups()))
	}
}

func TestRegistry_DeleteGroup(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()

	if err := reg.CreateGroup(ctx, &Group{ID: 3, Name: "Garage", Volume: vcp.UnknownVolume, Members: []vcp.DeviceAddress{devC}}); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if err := reg.DeleteGroup(ctx, 3); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	if _, ok := reg.GroupOf(devC); ok {
		t.Error("member of deleted group still resolves")
	}
	if got := reg.ListGroups(); len(got) != 0 {
		t.Errorf("ListGroups() = %v", got)
	}
}

func TestRegistry_Policy(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()

	if reg.Policy(devA) != PolicyAllowed {
		t.Errorf("default Policy() = %s", reg.Policy(devA))
	}
	if err := reg.SetPolicy(ctx, devA, PolicyForbidden); err != nil {
		t.Fatalf("SetPolicy() error = %v", err)
	}
	if reg.AllowConnect(devA) {
		t.Error("AllowConnect() after forbid should be false")
	}
	if err := reg.SetPolicy(ctx, devA, "sometimes"); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("SetPolicy(invalid) error = %v", err)
	}
	if reg.Policy(devA) != PolicyForbidden {
		t.Error("invalid SetPolicy() changed the cache")
	}
}

func TestGroupValidate(t *testing.T) {
	tests := []struct {
		name    string
		group   Group
		wantErr bool
	}{
		{"valid", Group{ID: 0, Name: "Zero", Volume: 0}, false},
		{"unassigned id", Group{ID: vcp.NoGroup, Name: "New", Volume: vcp.UnknownVolume}, false},
		{"negative id", Group{ID: -5, Name: "Bad", Volume: vcp.UnknownVolume}, true},
		{"no name", Group{ID: 1, Volume: vcp.UnknownVolume}, true},
		{"volume too high", Group{ID: 1, Name: "Loud", Volume: 256}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.group.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func membersByID(groups []Group) map[int32][]vcp.DeviceAddress {
	out := make(map[int32][]vcp.DeviceAddress, len(groups))
	for _, g := range groups {
		if len(g.Members) > 0 {
			out[g.ID] = g.Members
		}
	}
	return out
}
