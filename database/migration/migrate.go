// Package migration creates and versions the job tables.
//
// PostgreSQL deployments run the embedded SQL files through golang-migrate,
// so the schema is versioned and reversible. SQLite deployments (single host,
// tests) use gorm AutoMigrate on the taskgraph models instead.
//
//	if err := migration.Up(db); err != nil {
//	    return err
//	}
package migration

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/kbukum/agentflow/database"
	"github.com/kbukum/agentflow/taskgraph"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

const migrationsPath = "sql"

// Up brings the schema to the latest version.
func Up(db *database.DB) error {
	if !db.IsPostgres() {
		return db.AutoMigrate(taskgraph.Models()...)
	}
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back every versioned migration. PostgreSQL only.
func Down(db *database.DB) error {
	if !db.IsPostgres() {
		return fmt.Errorf("migrate down is only supported on %s", database.DriverPostgres)
	}
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version returns the applied schema version and dirty flag. PostgreSQL only.
func Version(db *database.DB) (version uint, dirty bool, err error) {
	if !db.IsPostgres() {
		return 0, false, fmt.Errorf("schema versions are only tracked on %s", database.DriverPostgres)
	}
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Source returns the embedded migration files.
func Source() embed.FS {
	return migrationsFS
}

// newMigrator creates a golang-migrate instance backed by the embedded FS.
// Callers must NOT call m.Close(): it would close the shared sql.DB.
func newMigrator(db *database.DB) (*migrate.Migrate, error) {
	sqlDB, err := db.GormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	var driver migratedb.Driver
	driver, err = migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("create database driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, database.DriverPostgres, driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}
