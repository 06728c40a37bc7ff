package secretariat

import (
	"context"
	"database/sql"
	"embed"

	"github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
)

const migrationsDir = "data/sql/migrations"

//go:embed data/sql/migrations/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// Migrate applies the embedded migrations. dialect is a goose dialect name,
// "sqlite3" or "postgres".
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect(dialect); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "unsupported migration dialect").
			WithMetadata(map[string]any{"dialect": dialect})
	}

	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to run migrations")
	}

	return nil
}
