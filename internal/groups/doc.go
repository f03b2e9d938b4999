// Package groups stores volume control group membership, the last known
// volume of each group and the per-device connection policy.
//
// The Repository persists to SQLite (tables vcp_groups, vcp_group_members and
// vcp_devices, created by the embedded migrations). The Registry wraps it
// with an in-memory cache and implements the core service's
// vcp.GroupResolver, vcp.VolumeStore and vcp.ConnectionPolicy, so lookups
// made on the service goroutine never touch the database.
//
// A device belongs to at most one group. Moving a device to another group
// replaces its membership.
//
// Usage:
//
//	repo := groups.NewSQLiteRepository(db.DB)
//	reg := groups.NewRegistry(repo)
//	if err := reg.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	svc, err := vcp.NewService(vcp.Options{Groups: reg, Store: reg, Policy: reg, ...})
package groups
