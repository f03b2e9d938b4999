package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// openTestDB opens a fresh database in a temp dir, closed on cleanup.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "vcp.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "data", "nested", "vcp.db")
		db, err := Open(Config{Path: dbPath, BusyTimeout: 1})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // test cleanup

		if _, err := os.Stat(dbPath); err != nil {
			t.Errorf("database file not created: %v", err)
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
		}
		if got := db.Stats().MaxOpenConnections; got != 1 {
			t.Errorf("MaxOpenConnections = %d, want 1", got)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := Open(Config{}); !errors.Is(err, ErrNoPath) {
			t.Errorf("Open() error = %v, want ErrNoPath", err)
		}
	})
}

func TestConfigDSN(t *testing.T) {
	dsn := Config{Path: "/tmp/vcp.db", BusyTimeout: 5}.dsn()
	if !strings.Contains(dsn, "_busy_timeout=5000") || !strings.Contains(dsn, "_foreign_keys=on") {
		t.Errorf("dsn = %q", dsn)
	}
	if strings.Contains(dsn, "_journal_mode") {
		t.Errorf("dsn without WAL = %q", dsn)
	}
	if wal := (Config{Path: "/tmp/vcp.db", WALMode: true}).dsn(); !strings.Contains(wal, "_journal_mode=WAL") {
		t.Errorf("WAL dsn = %q", wal)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db := openTestDB(t)
	var on int
	if err := db.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("PRAGMA error = %v", err)
	}
	if on != 1 {
		t.Error("foreign keys should be enabled")
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	db.Close() //nolint:errcheck // closing to force failure
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on closed database should fail")
	}
}

func TestClose(t *testing.T) {
	var nilDB *DB
	if err := nilDB.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
	if err := (&DB{}).Close(); err != nil {
		t.Errorf("Close() on zero DB error = %v", err)
	}
}

func TestWithTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE volumes (grp INTEGER PRIMARY KEY, volume INTEGER)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	count := func() int {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM volumes").Scan(&n); err != nil {
			t.Fatalf("count error = %v", err)
		}
		return n
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO volumes VALUES (1, 120)")
		return err
	})
	if err != nil || count() != 1 {
		t.Fatalf("commit: err=%v count=%d", err, count())
	}

	boom := errors.New("boom")
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO volumes VALUES (2, 30)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("withTx() error = %v, want boom", err)
	}
	if count() != 1 {
		t.Errorf("rolled back insert persisted, count = %d", count())
	}
}
