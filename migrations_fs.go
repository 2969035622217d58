package webhooks

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the dispatch and inbound ledger schema for postgres,
// with sqlite alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
