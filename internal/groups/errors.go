package groups

import "errors"

var (
	// ErrGroupNotFound is returned when a group ID does not exist.
	ErrGroupNotFound = errors.New("groups: group not found")

	// ErrGroupExists is returned when a group with the same ID or name already exists.
	ErrGroupExists = errors.New("groups: group already exists")

	// ErrMemberNotFound is returned when a device is not a member of the group.
	ErrMemberNotFound = errors.New("groups: device is not a member")

	// ErrInvalidGroup is returned for a group that fails validation.
	ErrInvalidGroup = errors.New("groups: invalid group")

	// ErrInvalidPolicy is returned for an unrecognised connection policy.
	ErrInvalidPolicy = errors.New("groups: invalid policy")
)
