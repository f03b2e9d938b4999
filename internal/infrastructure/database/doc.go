// Package database opens the vcpd SQLite store and applies its schema.
//
// The store holds group definitions, group membership, persisted group
// volumes and per-device connection policy. Repositories receive the
// embedded *sql.DB; this package only owns the connection lifecycle and
// migrations.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or have defaults, and
// every .up.sql has a matching .down.sql.
package database
