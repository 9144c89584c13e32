// Package migrations hands the embedded shim schema to a migration runner,
// one filesystem per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	shims "github.com/goliatone/go-shims"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const defaultSourceLabel = "go-shims"

// Source is the migration directory for one dialect.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel string
	Dialects    []string
	Sources     []Source
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

// WithDialects limits registration to the named dialects.
func WithDialects(dialects ...string) Option {
	return func(r *Registration) {
		if normalized := normalizeDialects(dialects); len(normalized) > 0 {
			r.Dialects = normalized
		}
	}
}

// WithSources replaces the embedded sources, for callers shipping their own
// schema next to the shim tables.
func WithSources(sources ...Source) Option {
	return func(r *Registration) {
		var kept []Source
		for _, source := range sources {
			dialect := normalizeDialect(source.Dialect)
			if dialect == "" || source.FS == nil {
				continue
			}
			kept = append(kept, Source{Dialect: dialect, Path: source.Path, FS: source.FS})
		}
		if len(kept) > 0 {
			r.Sources = kept
		}
	}
}

// DialectForDriver maps a database/sql driver name onto a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pgx", "postgresql":
		return DialectPostgres, nil
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: no dialect for driver %q", driver)
	}
}

// Sources splits root (the embedded tree by default) into the postgres
// directory and its sqlite subdirectory. Each must hold at least one
// *.up.sql file.
func Sources(root ...fs.FS) ([]Source, error) {
	tree := shims.GetMigrationsFS()
	if len(root) > 0 && root[0] != nil {
		tree = root[0]
	}

	base, basePath, err := migrationsRoot(tree)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite directory: %w", err)
	}
	sqlitePath := "sqlite"
	if basePath != "." {
		sqlitePath = basePath + "/sqlite"
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: sqlitePath, FS: sqliteFS},
	}
	for _, source := range sources {
		ups, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: list %s: %w", source.Path, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s has no %s migrations", source.Path, source.Dialect)
		}
	}
	return sources, nil
}

// Register calls registerFn once per selected dialect source.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	if registerFn == nil {
		return Registration{}, fmt.Errorf("migrations: register function is required")
	}
	sources, err := Sources()
	if err != nil {
		return Registration{}, err
	}
	reg := Registration{
		SourceLabel: defaultSourceLabel,
		Dialects:    []string{DialectPostgres, DialectSQLite},
		Sources:     sources,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	for _, source := range reg.Sources {
		if !slices.Contains(reg.Dialects, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, reg.SourceLabel, source.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s from %s: %w", source.Dialect, source.Path, err)
		}
	}
	return reg, nil
}

// Apply registers the embedded source for dialect through register and then
// runs migrate, matching a go-persistence-bun client's RegisterSQLMigrations
// and Migrate pair.
func Apply(ctx context.Context, dialect string, register func(fs.FS), migrate func(context.Context) error) error {
	if register == nil || migrate == nil {
		return fmt.Errorf("migrations: register and migrate are required")
	}
	dialect = normalizeDialect(dialect)
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return fmt.Errorf("migrations: dialect %q is not supported", dialect)
	}
	_, err := Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		register(fsys)
		return nil
	}, WithDialects(dialect))
	if err != nil {
		return err
	}
	if err := migrate(ctx); err != nil {
		return fmt.Errorf("migrations: migrate %s: %w", dialect, err)
	}
	return nil
}

func migrationsRoot(root fs.FS) (fs.FS, string, error) {
	const embedded = "data/sql/migrations"
	if sub, err := fs.Sub(root, embedded); err == nil {
		if _, statErr := fs.Stat(sub, "."); statErr == nil {
			return sub, embedded, nil
		}
	}
	if ups, err := fs.Glob(root, "*.sql"); err == nil && len(ups) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", embedded)
}

func normalizeDialect(dialect string) string {
	return strings.ToLower(strings.TrimSpace(dialect))
}

func normalizeDialects(dialects []string) []string {
	var out []string
	for _, dialect := range dialects {
		if dialect = normalizeDialect(dialect); dialect != "" && !slices.Contains(out, dialect) {
			out = append(out, dialect)
		}
	}
	return out
}
