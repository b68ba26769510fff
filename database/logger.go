package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kbukum/agentflow/logger"
)

var gormLevels = map[string]gormlogger.LogLevel{
	"silent": gormlogger.Silent,
	"error":  gormlogger.Error,
	"warn":   gormlogger.Warn,
	"info":   gormlogger.Info,
}

// parseLogLevel maps database.log_level onto gorm's levels. Unknown values
// mean info.
func parseLogLevel(level string) gormlogger.LogLevel {
	if l, ok := gormLevels[strings.ToLower(level)]; ok {
		return l
	}
	return gormlogger.Info
}

// gormLogger routes gorm's output into the service logger. Statements are
// logged at debug, slow ones at warn, failures at error.
type gormLogger struct {
	log   *logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newGormLogger(log *logger.Logger, slow time.Duration, level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{log: log.WithComponent("gorm"), level: level, slow: slow}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Info {
		g.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Error {
		g.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := logger.Fields("sql", sql, "rows", rows)
	for k, v := range logger.DurationFields("query", elapsed) {
		fields[k] = v
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		fields[logger.FieldError] = err.Error()
		g.log.Error("query failed", fields)
	case g.slow > 0 && elapsed > g.slow:
		g.log.Warn("slow query", fields)
	case g.level >= gormlogger.Info:
		g.log.Debug("query", fields)
	}
}
