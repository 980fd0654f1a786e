// Package db holds what the MySQL and Postgres repositories share: the
// versioned schema migration runner.
package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrMigrationDowngrade is returned when the database carries a schema
// version newer than the migrations compiled into this binary.
var ErrMigrationDowngrade = errors.New("database downgrade detected")

// migrationLogger adapts the standard logger to migrate.Logger.
type migrationLogger struct {
	prefix string
}

func (m migrationLogger) Printf(format string, v ...any) {
	log.Printf(m.prefix+strings.TrimRight(format, "\n"), v...)
}

func (m migrationLogger) Verbose() bool { return false }

// ApplyMigrations runs the migration files under path in fsys against
// driver, up to latest. A dirty database or one newer than latest is
// refused.
func ApplyMigrations(fsys fs.FS, path string, driver database.Driver, dbName string, latest uint) error {
	src, err := iofs.New(fsys, path)
	if err != nil {
		return fmt.Errorf("%s: migration source: %w", dbName, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return fmt.Errorf("%s: migrate init: %w", dbName, err)
	}
	m.Log = migrationLogger{prefix: dbName + ": migrate: "}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("%s: migration version: %w", dbName, err)
	}
	if dirty {
		return fmt.Errorf("%s: database is dirty at version %d, manual intervention required", dbName, version)
	}
	if version > latest {
		return fmt.Errorf("%w: db_version=%d latest=%d", ErrMigrationDowngrade, version, latest)
	}

	if err := m.Migrate(latest); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: migrate up: %w", dbName, err)
	}
	log.Printf("%s: schema at version=%d", dbName, latest)
	return nil
}
