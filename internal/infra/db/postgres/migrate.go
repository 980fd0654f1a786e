package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/bryanwahyu/domain-insight/internal/infra/db"
)

// LatestMigrationVersion must be bumped with every new file in migrations/.
const LatestMigrationVersion uint = 1

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the schema up to LatestMigrationVersion.
func Migrate(ctx context.Context, sqlDB *sql.DB) error {
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("postgres: migrate conn: %w", err)
	}
	defer conn.Close()

	driver, err := migratepg.WithConnection(ctx, conn, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres: migrate driver: %w", err)
	}
	return db.ApplyMigrations(migrations, "migrations", driver, "postgres", LatestMigrationVersion)
}
