// Package migrations embeds the SQL schema for the group store.
//
// The files are compiled into the binary so vcpd can migrate a fresh
// database without the SQL present on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
