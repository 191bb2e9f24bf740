package db

import (
	"errors"

	"github.com/diewo77/go-contracts/internal/config"
	migrate "github.com/golang-migrate/migrate/v4"
	// The following blank imports register the postgres driver and file source for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/gorm"
)

// DefaultMigrationsDir holds the versioned SQL migrations.
const DefaultMigrationsDir = "migrations"

// RunSQLMigrations applies the SQL migrations in dir to the Postgres database
// at dsn. Key=value DSNs are converted to the URL form golang-migrate needs.
func RunSQLMigrations(dsn, dir string) error {
	if dir == "" {
		dir = DefaultMigrationsDir
	}
	m, err := migrate.New("file://"+dir, ToURLDSN(NormalizeDSN(dsn)))
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// ApplySchema brings the schema up to date: versioned SQL migrations on
// Postgres, AutoMigrate on sqlite.
func ApplySchema(conn *gorm.DB, cfg config.DatabaseConfig) error {
	if cfg.Driver == "sqlite" {
		return Migrate(conn)
	}
	return RunSQLMigrations(cfg.DSN(), DefaultMigrationsDir)
}
