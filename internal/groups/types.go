package groups

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// maxNameLength bounds group names.
const maxNameLength = 100

// Group is a logical set of devices driven at a common volume.
type Group struct {
	// ID identifies the group on the wire. vcp.NoGroup on create lets the
	// store assign one.
	ID int32 `json:"id"`

	Name string `json:"name"`

	// Volume is the last known group volume, vcp.UnknownVolume if never set.
	Volume int `json:"volume"`

	Members []vcp.DeviceAddress `json:"members"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the group fields that the store does not enforce.
func (g *Group) Validate() error {
	name := strings.TrimSpace(g.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidGroup)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidGroup, maxNameLength)
	}
	if g.ID < vcp.NoGroup {
		return fmt.Errorf("%w: id %d", ErrInvalidGroup, g.ID)
	}
	if g.Volume != vcp.UnknownVolume && (g.Volume < 0 || g.Volume > vcp.MaxVolume) {
		return fmt.Errorf("%w: volume %d", ErrInvalidGroup, g.Volume)
	}
	return nil
}

// clone returns a copy that shares no slices with g.
func (g *Group) clone() *Group {
	c := *g
	if g.Members != nil {
		c.Members = append([]vcp.DeviceAddress(nil), g.Members...)
	}
	return &c
}

// Policy controls whether the service may connect a device.
type Policy string

const (
	// PolicyAllowed is the default for devices with no stored policy.
	PolicyAllowed Policy = "allowed"

	// PolicyForbidden refuses host-initiated connects.
	PolicyForbidden Policy = "forbidden"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAllowed, PolicyForbidden:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}
