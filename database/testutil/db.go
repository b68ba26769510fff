package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kbukum/agentflow/database"
	"github.com/kbukum/agentflow/logger"
)

// NewDB opens a fresh SQLite database in a temp dir and migrates models.
// The connection is closed when the test ends.
func NewDB(t testing.TB, models ...any) *database.DB {
	t.Helper()

	cfg := database.Config{
		Driver:     database.DriverSQLite,
		DSN:        filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_foreign_keys=on",
		MaxRetries: 1,
		LogLevel:   "silent",
	}
	db, err := database.Open(context.Background(), cfg, logger.Nop())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("auto-migrate: %v", err)
		}
	}
	return db
}
