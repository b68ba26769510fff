// Package database provides the GORM connection used by every engine
// component: driver selection between PostgreSQL and SQLite, retrying
// connect with connection pooling, panic-safe transactions, a gorm logger
// bridged onto the engine logger, and translation of store errors to
// AppError.
//
// # Usage
//
//	db, err := database.Open(ctx, cfg.Database, log)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	err = db.WithTransaction(ctx, func(tx *gorm.DB) error {
//	    return tx.Create(&row).Error
//	})
//
// # Subpackages
//
//   - migration: versioned SQL migrations (golang-migrate) and SQLite auto-migration
//   - testutil: SQLite-backed database for tests
package database
