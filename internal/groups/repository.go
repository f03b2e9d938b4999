package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// Repository defines persistence operations for groups and device policy.
type Repository interface {
	// Create inserts a group. A vcp.NoGroup ID is replaced by the assigned one.
	Create(ctx context.Context, group *Group) error
	// GetByID retrieves a group with its members.
	GetByID(ctx context.Context, id int32) (*Group, error)
	// List retrieves all groups with their members, ordered by ID.
	List(ctx context.Context) ([]Group, error)
	// Delete removes a group and its memberships.
	Delete(ctx context.Context, id int32) error

	// SetMember puts device in group, moving it out of any other group.
	SetMember(ctx context.Context, groupID int32, device vcp.DeviceAddress) error
	// RemoveMember takes device out of group.
	RemoveMember(ctx context.Context, groupID int32, device vcp.DeviceAddress) error

	// SaveVolume records the last known volume of a group.
	SaveVolume(ctx context.Context, groupID int32, volume int) error

	// SetPolicy records the connection policy for a device.
	SetPolicy(ctx context.Context, device vcp.DeviceAddress, policy Policy) error
	// ListPolicies returns every stored policy.
	ListPolicies(ctx context.Context) (map[vcp.DeviceAddress]Policy, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new group.
//
// Returns ErrGroupExists when the ID or name is taken.
func (r *SQLiteRepository) Create(ctx context.Context, group *Group) error {
	if group == nil {
		return fmt.Errorf("group is required")
	}
	if err := group.Validate(); err != nil {
		return err
	}

	var id any
	if group.ID != vcp.NoGroup {
		id = group.ID
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO vcp_groups (id, name, volume) VALUES (?, ?, ?)`,
		id, strings.TrimSpace(group.Name), group.Volume,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrGroupExists
		}
		return fmt.Errorf("inserting group: %w", err)
	}

	if group.ID == vcp.NoGroup {
		lastID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading assigned group id: %w", err)
		}
		group.ID = int32(lastID) //nolint:gosec // rowid assigned from int32 range
	}
	group.Name = strings.TrimSpace(group.Name)

	for _, d := range group.Members {
		if err := r.SetMember(ctx, group.ID, d); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a group by ID.
//
// Returns ErrGroupNotFound if missing.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int32) (*Group, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, volume, created_at, updated_at FROM vcp_groups WHERE id = ?`, id)
	group, err := scanGroupRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("querying group: %w", err)
	}

	members, err := r.members(ctx, id)
	if err != nil {
		return nil, err
	}
	group.Members = members
	return group, nil
}

// List retrieves all groups ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, volume, created_at, updated_at FROM vcp_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	index := make(map[int32]int)
	for rows.Next() {
		group, err := scanGroupRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		index[group.ID] = len(groups)
		groups = append(groups, *group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}

	memberRows, err := r.db.QueryContext(ctx,
		`SELECT group_id, device FROM vcp_group_members ORDER BY group_id, device`)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var groupID int32
		var device string
		if err := memberRows.Scan(&groupID, &device); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		if i, ok := index[groupID]; ok {
			groups[i].Members = append(groups[i].Members, vcp.DeviceAddress(device))
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group members: %w", err)
	}

	return groups, nil
}

// Delete removes a group and its memberships.
//
// Returns ErrGroupNotFound if missing.
func (r *SQLiteRepository) Delete(ctx context.Context, id int32) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM vcp_group_members WHERE group_id = ?", id); err != nil {
		return fmt.Errorf("deleting group members: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM vcp_groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	if err := requireRow(result, ErrGroupNotFound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SetMember puts device in group, replacing any previous membership.
//
// Returns ErrGroupNotFound if the group does not exist.
func (r *SQLiteRepository) SetMember(ctx context.Context, groupID int32, device vcp.DeviceAddress) error {
	if device.IsNull() {
		return fmt.Errorf("%w: null device", vcp.ErrInvalidDevice)
	}

	var exists int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM vcp_groups WHERE id = ?", groupID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGroupNotFound
	}
	if err != nil {
		return fmt.Errorf("checking group: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO vcp_group_members (device, group_id) VALUES (?, ?)
		ON CONFLICT(device) DO UPDATE SET group_id = excluded.group_id,
			created_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
		device.String(), groupID,
	)
	if err != nil {
		return fmt.Errorf("inserting group member: %w", err)
	}
	return nil
}

// RemoveMember takes device out of group.
//
// Returns ErrMemberNotFound if the device is not in that group.
func (r *SQLiteRepository) RemoveMember(ctx context.Context, groupID int32, device vcp.DeviceAddress) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM vcp_group_members WHERE group_id = ? AND device = ?",
		groupID, device.String(),
	)
	if err != nil {
		return fmt.Errorf("deleting group member: %w", err)
	}
	return requireRow(result, ErrMemberNotFound)
}

// SaveVolume records the last known volume of a group.
func (r *SQLiteRepository) SaveVolume(ctx context.Context, groupID int32, volume int) error {
	if volume < vcp.UnknownVolume || volume > vcp.MaxVolume {
		return fmt.Errorf("%w: %d", vcp.ErrInvalidVolume, volume)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE vcp_groups SET volume = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE id = ?`,
		volume, groupID,
	)
	if err != nil {
		return fmt.Errorf("updating group volume: %w", err)
	}
	return requireRow(result, ErrGroupNotFound)
}

// SetPolicy records the connection policy for a device.
func (r *SQLiteRepository) SetPolicy(ctx context.Context, device vcp.DeviceAddress, policy Policy) error {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return err
	}
	if device.IsNull() {
		return fmt.Errorf("%w: null device", vcp.ErrInvalidDevice)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO vcp_devices (device, policy) VALUES (?, ?)
		ON CONFLICT(device) DO UPDATE SET policy = excluded.policy,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
		device.String(), string(policy),
	)
	if err != nil {
		return fmt.Errorf("upserting device policy: %w", err)
	}
	return nil
}

// ListPolicies returns every stored device policy.
func (r *SQLiteRepository) ListPolicies(ctx context.Context) (map[vcp.DeviceAddress]Policy, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT device, policy FROM vcp_devices")
	if err != nil {
		return nil, fmt.Errorf("querying device policies: %w", err)
	}
	defer rows.Close()

	policies := make(map[vcp.DeviceAddress]Policy)
	for rows.Next() {
		var device, policy string
		if err := rows.Scan(&device, &policy); err != nil {
			return nil, fmt.Errorf("scanning device policy: %w", err)
		}
		policies[vcp.DeviceAddress(device)] = Policy(policy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device policies: %w", err)
	}
	return policies, nil
}

func (r *SQLiteRepository) members(ctx context.Context, groupID int32) ([]vcp.DeviceAddress, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT device FROM vcp_group_members WHERE group_id = ? ORDER BY device", groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	var members []vcp.DeviceAddress
	for rows.Next() {
		var device string
		if err := rows.Scan(&device); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		members = append(members, vcp.DeviceAddress(device))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group members: %w", err)
	}
	return members, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroupRow(scanner rowScanner) (*Group, error) {
	var group Group
	var createdAt, updatedAt string
	if err := scanner.Scan(&group.ID, &group.Name, &group.Volume, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if group.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if group.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &group, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
