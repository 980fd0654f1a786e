package mysql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"

	"github.com/bryanwahyu/domain-insight/internal/infra/db"
)

// LatestMigrationVersion must be bumped with every new file in migrations/.
const LatestMigrationVersion uint = 4

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the schema up to LatestMigrationVersion. Each migration
// file holds a single statement so the DSN needs no multiStatements.
func Migrate(ctx context.Context, sqlDB *sql.DB) error {
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("mysql: migrate conn: %w", err)
	}
	defer conn.Close()

	driver, err := migratemysql.WithConnection(ctx, conn, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("mysql: migrate driver: %w", err)
	}
	return db.ApplyMigrations(migrations, "migrations", driver, "mysql", LatestMigrationVersion)
}
