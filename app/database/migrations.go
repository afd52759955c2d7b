package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// ErrDirtySchema means a previous migration stopped halfway and needs manual repair
var ErrDirtySchema = errors.New("content schema is dirty")

func newMigrator(db *DB) (*migrate.Migrate, error) {
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}

	schema, err := iofs.New(schemaFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded schema: %w", err)
	}

	return migrate.NewWithInstance("iofs", schema, "sqlite", driver)
}

// RunMigrations brings the content schema up to date. It refuses to touch a
// dirty schema and returns the version now in place.
func RunMigrations(db *DB) (uint, bool, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.Debug("Content schema is empty, applying all migrations")
	case err != nil:
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	case dirty:
		return version, true, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("failed to migrate content schema: %w", err)
	}

	applied, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	if applied != version {
		slog.Info("Content schema migrated", "from", version, "to", applied)
	}

	return applied, dirty, nil
}
