package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/resilience"
)

// DB is the engine's handle on the job store.
type DB struct {
	GormDB *gorm.DB
	log    *logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// Dialector returns the gorm dialector for cfg.Driver.
func Dialector(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case DriverSQLite:
		return sqlite.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// Open connects with the driver named in cfg, retrying connection errors
// with backoff until cfg.MaxRetries attempts are spent or ctx ends.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*DB, error) {
	cfg.ApplyDefaults()
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	log = log.WithComponent("database")

	gormCfg := &gorm.Config{
		Logger: newGormLogger(log, cfg.SlowQueryThreshold, parseLogLevel(cfg.LogLevel)),
	}
	retry := resilience.RetryConfig{
		MaxAttempts:    cfg.MaxRetries,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2,
		RetryIf:        IsConnectionError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			log.Warn("database connect failed, retrying", logger.Fields(
				"attempt", attempt,
				logger.FieldError, err.Error(),
				"backoff", backoff.String(),
			))
		},
	}
	gdb, err := resilience.Retry(ctx, retry, func() (*gorm.DB, error) {
		return connect(ctx, dialector, gormCfg)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	log.Info("database connected", logger.Fields("driver", gdb.Dialector.Name()))
	return &DB{GormDB: gdb, log: log}, nil
}

// connect opens and pings once. A failed ping closes the pool.
func connect(ctx context.Context, d gorm.Dialector, cfg *gorm.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(d, cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return gdb, nil
}

// DriverName is gorm's dialect name: "postgres" or "sqlite".
func (d *DB) DriverName() string {
	return d.GormDB.Dialector.Name()
}

// IsPostgres gates the features SQLite lacks: SKIP LOCKED claims, advisory
// locks and versioned migrations.
func (d *DB) IsPostgres() bool {
	return d.DriverName() == DriverPostgres
}

// Close closes the pool. Later calls return the first result.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		sqlDB, err := d.GormDB.DB()
		if err != nil {
			d.closeErr = err
			return
		}
		d.log.Info("closing database connection")
		d.closeErr = sqlDB.Close()
	})
	return d.closeErr
}

// WithContext returns a session bound to ctx.
func (d *DB) WithContext(ctx context.Context) *gorm.DB {
	return d.GormDB.WithContext(ctx)
}

// AutoMigrate creates or updates the tables for models.
func (d *DB) AutoMigrate(models ...any) error {
	if err := d.GormDB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	d.log.Info("auto-migration completed", logger.Fields("models", len(models)))
	return nil
}

// WithTransaction runs fn in a transaction. It commits when fn returns nil
// and rolls back on an error or a panic; panics are re-raised. Everything fn
// does must go through tx.
func (d *DB) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.GormDB.WithContext(ctx).Transaction(fn)
}
