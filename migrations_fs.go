package shims

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the postgres migrations with the sqlite variants under
// data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded migration tree for both dialects.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
