package gojob

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goliatone/go-job/queue/adapters/postgres"
)

// OpenSQLQueue creates the go-job queue tables on db and returns a durable
// queue. dialect is "postgres" or "sqlite"; sqlite runs without SKIP LOCKED.
func OpenSQLQueue(ctx context.Context, db *sql.DB, dialect string, opts ...postgres.Option) (*postgres.Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("gojob: sql queue requires a database")
	}
	var base []postgres.Option
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "postgres":
		base = append(base, postgres.WithDialect(postgres.DialectPostgres))
	case "sqlite":
		base = append(base, postgres.WithDialect(postgres.DialectSQLite), postgres.WithUseSkipLocked(false))
	default:
		return nil, fmt.Errorf("gojob: sql queue dialect %q is not supported", dialect)
	}
	storage := postgres.NewStorage(db, append(base, opts...)...)
	if err := storage.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("gojob: migrate queue tables: %w", err)
	}
	return postgres.NewAdapter(storage), nil
}
