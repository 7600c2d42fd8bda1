package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// migrationRunner applies embedded .sql files for one dialect in
// lexicographic order and records each in schema_migrations.
type migrationRunner struct {
	dialect string
	exec    func(ctx context.Context, query string, args ...any) error
	applied func(ctx context.Context) (map[string]bool, error)
	// record inserts a filename into schema_migrations.
	record string
}

const createMigrationTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	filename   TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

func (r migrationRunner) run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"), zap.String("dialect", r.dialect))

	if err := r.exec(ctx, createMigrationTable); err != nil {
		return eris.Wrap(err, "store: ensure migration table")
	}

	dir := "migrations/" + r.dialect
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return eris.Wrap(err, "store: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := r.applied(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile(dir + "/" + name)
		if err != nil {
			return eris.Wrapf(err, "store: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if err := r.exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "store: apply migration %s", name)
		}
		if err := r.exec(ctx, r.record, name, formatTime(time.Now())); err != nil {
			return eris.Wrapf(err, "store: record migration %s", name)
		}
	}
	return nil
}

// MigrationFiles lists the embedded migration filenames for a dialect.
func MigrationFiles(dialect string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations/"+dialect)
	if err != nil {
		return nil, eris.Wrapf(err, "store: unknown dialect %q", dialect)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
